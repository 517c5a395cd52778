package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ArbService is what the arbitrage and settlement handlers need.
type ArbService interface {
	Quote(ctx context.Context, maxInput *uint256.Int) (domain.ArbitrageResult, error)
	SolveAndExecute(ctx context.Context, caller common.Address, maxInput *uint256.Int) (domain.Settlement, error)
	Settlement(ctx context.Context, id string) (domain.Settlement, error)
	Settlements(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error)
	Attempts(ctx context.Context, opts domain.ListOpts) ([]domain.Attempt, error)
}

// ArbHandler serves quote and execute.
type ArbHandler struct {
	arb    ArbService
	logger *slog.Logger
}

// NewArbHandler creates an ArbHandler.
func NewArbHandler(arb ArbService, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{arb: arb, logger: logHandler(logger, "arbitrage")}
}

// quoteResponse is a solved but unexecuted opportunity.
type quoteResponse struct {
	Profitable     bool             `json:"profitable"`
	SwapAmount     string           `json:"swap_amount,omitempty"`
	Direction      domain.Direction `json:"direction"`
	BalanceChange0 string           `json:"balance_change0,omitempty"`
	BalanceChange1 string           `json:"balance_change1,omitempty"`
	Premium        string           `json:"premium,omitempty"`
	VenueA         domain.VenueID   `json:"venue_a,omitempty"`
	VenueB         domain.VenueID   `json:"venue_b,omitempty"`
	FlashVenue     domain.VenueID   `json:"flash_venue,omitempty"`
	Asset0         *common.Address  `json:"asset0,omitempty"`
	Asset1         *common.Address  `json:"asset1,omitempty"`
	Leg1Out        string           `json:"leg1_out,omitempty"`
	Leg2Out        string           `json:"leg2_out,omitempty"`
}

func newQuoteResponse(r domain.ArbitrageResult) quoteResponse {
	return quoteResponse{
		Profitable:     true,
		SwapAmount:     decimal(r.SwapAmount),
		Direction:      r.Direction,
		BalanceChange0: r.BalanceChange0.String(),
		BalanceChange1: r.BalanceChange1.String(),
		Premium:        decimal(r.Premium),
		VenueA:         r.VenueA,
		VenueB:         r.VenueB,
		FlashVenue:     r.FlashVenue,
		Asset0:         &r.Asset0,
		Asset1:         &r.Asset1,
		Leg1Out:        decimal(r.Leg1.AmountOut),
		Leg2Out:        decimal(r.Leg2.AmountOut),
	}
}

// Quote solves against current venue state without executing.
// GET /api/arbitrage/quote?max_input=1000
func (h *ArbHandler) Quote(w http.ResponseWriter, r *http.Request) {
	maxInput, err := parseAmount(r.URL.Query().Get("max_input"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "max_input must be a non-negative decimal integer")
		return
	}
	plan, err := h.arb.Quote(r.Context(), maxInput)
	if errors.Is(err, domain.ErrNoProfitableTrade) {
		writeJSON(w, http.StatusOK, quoteResponse{Profitable: false})
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(plan))
}

type executeRequest struct {
	MaxInput string `json:"max_input"`
}

type executeResponse struct {
	Status     string             `json:"status"`
	Settlement *domain.Settlement `json:"settlement,omitempty"`
}

// Execute runs one solve-and-execute attempt as the signed caller. A
// missing opportunity is not an error: the response says no_trade.
// POST /api/arbitrage/execute
func (h *ArbHandler) Execute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	maxInput, err := parseAmount(req.MaxInput)
	if err != nil {
		writeError(w, http.StatusBadRequest, "max_input must be a non-negative decimal integer")
		return
	}

	st, err := h.arb.SolveAndExecute(r.Context(), caller, maxInput)
	if errors.Is(err, domain.ErrNoProfitableTrade) {
		writeJSON(w, http.StatusOK, executeResponse{Status: string(domain.AttemptNoTrade)})
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Status: string(domain.AttemptSettled), Settlement: &st})
}

// SettlementHandler serves settlement and attempt history.
type SettlementHandler struct {
	arb    ArbService
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(arb ArbService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{arb: arb, logger: logHandler(logger, "settlements")}
}

type listSettlementsResponse struct {
	Settlements []domain.Settlement `json:"settlements"`
}

// List returns recent settlements, newest first.
// GET /api/settlements?limit=50&offset=0&since=...&until=...
func (h *SettlementHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.arb.Settlements(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if out == nil {
		out = []domain.Settlement{}
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: out})
}

// Get returns one settlement.
// GET /api/settlements/{id}
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.arb.Settlement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type attemptView struct {
	ID           string           `json:"id"`
	VenueA       domain.VenueID   `json:"venue_a"`
	VenueB       domain.VenueID   `json:"venue_b"`
	Direction    domain.Direction `json:"direction"`
	SwapAmount   string           `json:"swap_amount"`
	Status       string           `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	StateReached string           `json:"state_reached,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Attempts returns the attempt log, including aborts and no-trade calls.
// GET /api/attempts
func (h *SettlementHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attempts, err := h.arb.Attempts(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptView{
			ID:           a.ID,
			VenueA:       a.VenueA,
			VenueB:       a.VenueB,
			Direction:    a.Direction,
			SwapAmount:   decimal(a.SwapAmount),
			Status:       string(a.Status),
			Reason:       a.Reason,
			StateReached: a.StateReached,
			CreatedAt:    a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}

// logHandler tags a handler's logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
