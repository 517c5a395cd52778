package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/settings"
)

// ConfigService reads and changes the arbitrage configuration.
type ConfigService interface {
	Configuration() domain.Configuration
	Configure(ctx context.Context, caller common.Address, u settings.Update) error
	TransferOperator(ctx context.Context, caller, next common.Address) error
}

// ConfigHandler serves the configuration endpoints.
type ConfigHandler struct {
	cfg    ConfigService
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(cfg ConfigService, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, logger: logHandler(logger, "config")}
}

type configView struct {
	SourceVenue      domain.VenueID `json:"source_venue"`
	DestinationVenue domain.VenueID `json:"destination_venue"`
	FlashVenue       domain.VenueID `json:"flash_venue"`
	Reverse          bool           `json:"reverse"`
	MinProfit0       string         `json:"min_profit0"`
	MinProfit1       string         `json:"min_profit1"`
	Operator         common.Address `json:"operator"`
	Ready            bool           `json:"ready"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
}

func newConfigView(c domain.Configuration) configView {
	v := configView{
		SourceVenue:      c.SourceVenue,
		DestinationVenue: c.DestinationVenue,
		FlashVenue:       c.FlashVenue,
		Reverse:          c.Reverse,
		MinProfit0:       decimal(c.MinProfit0),
		MinProfit1:       decimal(c.MinProfit1),
		Operator:         c.Operator,
		Ready:            c.Ready(),
	}
	if !c.UpdatedAt.IsZero() {
		v.UpdatedAt = &c.UpdatedAt
	}
	return v
}

// Get returns the current configuration.
// GET /api/config
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newConfigView(h.cfg.Configuration()))
}

// updateRequest sets only the fields present.
type updateRequest struct {
	SourceVenue      *domain.VenueID `json:"source_venue"`
	DestinationVenue *domain.VenueID `json:"destination_venue"`
	FlashVenue       *domain.VenueID `json:"flash_venue"`
	Reverse          *bool           `json:"reverse"`
	MinProfit0       *string         `json:"min_profit0"`
	MinProfit1       *string         `json:"min_profit1"`
}

func (u updateRequest) toUpdate() (settings.Update, error) {
	out := settings.Update{
		SourceVenue:      u.SourceVenue,
		DestinationVenue: u.DestinationVenue,
		FlashVenue:       u.FlashVenue,
		Reverse:          u.Reverse,
	}
	var err error
	if u.MinProfit0 != nil {
		if out.MinProfit0, err = domain.ParseAmount(*u.MinProfit0); err != nil {
			return out, err
		}
	}
	if u.MinProfit1 != nil {
		if out.MinProfit1, err = domain.ParseAmount(*u.MinProfit1); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Update changes the configuration. Operator only.
// PUT /api/config
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "min profits must be non-negative decimal integers")
		return
	}
	if err := h.cfg.Configure(r.Context(), caller, u); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigView(h.cfg.Configuration()))
}

type transferRequest struct {
	Operator string `json:"operator"`
}

// TransferOperator hands the operator role to another address.
// PUT /api/config/operator
func (h *ConfigHandler) TransferOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil || !common.IsHexAddress(req.Operator) {
		writeError(w, http.StatusBadRequest, "operator must be a hex address")
		return
	}
	next := common.HexToAddress(req.Operator)
	if next == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "operator must not be the zero address")
		return
	}
	if err := h.cfg.TransferOperator(r.Context(), caller, next); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigView(h.cfg.Configuration()))
}
