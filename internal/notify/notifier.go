// Package notify fans operator alerts about settlements, aborts and custody
// withdrawals out to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Event types an operator can subscribe to.
const (
	EventSettlement = "settlement"
	EventAbort      = "abort"
	EventRetrieve   = "retrieve"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender. Only events in the allow list are
// forwarded; an empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends title and message if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Settled announces a settlement.
func (n *Notifier) Settled(ctx context.Context, s domain.Settlement) error {
	msg := fmt.Sprintf("%s → %s (%s)\nswap %s, premium %s\nbalance change: %s / %s\nid %s",
		s.VenueA, s.VenueB, s.Direction, u256(s.SwapAmount), u256(s.Premium),
		s.BalanceChange0, s.BalanceChange1, s.ID)
	return n.Notify(ctx, EventSettlement, "Arbitrage settled", msg)
}

// Aborted announces an attempt that rolled back.
func (n *Notifier) Aborted(ctx context.Context, a domain.Attempt) error {
	msg := fmt.Sprintf("%s → %s aborted after %s\nreason: %s", a.VenueA, a.VenueB, a.StateReached, a.Reason)
	return n.Notify(ctx, EventAbort, "Arbitrage aborted", msg)
}

// Retrieved announces a custody withdrawal.
func (n *Notifier) Retrieved(ctx context.Context, asset, amount, dest string) error {
	msg := fmt.Sprintf("%s of %s sent to %s", amount, asset, dest)
	return n.Notify(ctx, EventRetrieve, "Custody withdrawal", msg)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// postJSON sends payload and expects a 2xx answer.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func u256(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
