package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/server/middleware"
	"github.com/alanyoungcy/flasharb/internal/service"
)

const maxRequestBody = 1 << 16

// writeJSON marshals v as JSON and writes it with status. Marshal failures
// become a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// abortResponse is the body returned for an aborted attempt.
type abortResponse struct {
	Error        string `json:"error"`
	Reason       string `json:"reason"`
	StateReached string `json:"state_reached,omitempty"`
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Anything
// unclassified is logged and reported as 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var abort *executor.AbortError
	switch {
	case errors.As(err, &abort):
		writeJSON(w, http.StatusConflict, abortResponse{
			Error:        "attempt aborted",
			Reason:       service.AbortReason(err),
			StateReached: string(abort.State),
		})
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller is not the operator")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrUnknownVenue):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotConfigured),
		errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrArithmeticOverflow),
		errors.Is(err, domain.ErrInvalidVenueState):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requireCaller returns the signed caller or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "request must be signed by the operator")
	}
	return caller, ok
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseAmount parses an optional decimal amount. Empty means nil.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return domain.ParseAmount(s)
}

// parseListOpts reads limit, offset, since and until (RFC 3339) from the
// query. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errors.New("limit must be a positive integer")
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errors.New(name + " must be an RFC 3339 timestamp")
		}
		*dst = &ts
	}
	return opts, nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
