package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/custody"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

// CustodyService exposes held balances and retrieval.
type CustodyService interface {
	Balances() []custody.Balance
	Retrieve(ctx context.Context, caller, asset common.Address, amount *uint256.Int, dest common.Address) error
}

// CustodyHandler serves the custody endpoints.
type CustodyHandler struct {
	svc    CustodyService
	logger *slog.Logger
}

// NewCustodyHandler creates a CustodyHandler.
func NewCustodyHandler(svc CustodyService, logger *slog.Logger) *CustodyHandler {
	return &CustodyHandler{svc: svc, logger: logHandler(logger, "custody")}
}

type balanceView struct {
	Asset  common.Address `json:"asset"`
	Amount string         `json:"amount"`
}

// Balances lists every held asset.
// GET /api/custody/balances
func (h *CustodyHandler) Balances(w http.ResponseWriter, r *http.Request) {
	bals := h.svc.Balances()
	out := make([]balanceView, 0, len(bals))
	for _, b := range bals {
		out = append(out, balanceView{Asset: b.Asset, Amount: decimal(b.Amount)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": out})
}

type retrieveRequest struct {
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

// Retrieve pays a held amount out to a destination. Operator only.
// POST /api/custody/retrieve
func (h *CustodyHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req retrieveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Asset) || !common.IsHexAddress(req.Destination) {
		writeError(w, http.StatusBadRequest, "asset and destination must be hex addresses")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a non-negative decimal integer")
		return
	}
	asset, dest := common.HexToAddress(req.Asset), common.HexToAddress(req.Destination)
	if err := h.svc.Retrieve(r.Context(), caller, asset, amount, dest); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "sent",
		"asset":       asset.Hex(),
		"amount":      amount.Dec(),
		"destination": dest.Hex(),
	})
}
