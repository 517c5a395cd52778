// Package settings holds the operator-controlled arbitrage Configuration.
// Every mutation is checked against the operator identity.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Update carries the fields of a configure call. Nil fields stay unchanged.
type Update struct {
	SourceVenue      *domain.VenueID
	DestinationVenue *domain.VenueID
	FlashVenue       *domain.VenueID
	Reverse          *bool
	MinProfit0       *uint256.Int
	MinProfit1       *uint256.Int
}

// Manager owns the Configuration for one instance.
type Manager struct {
	mu     sync.RWMutex
	cfg    domain.Configuration
	store  domain.ConfigurationStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists every accepted change.
func WithStore(s domain.ConfigurationStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty Configuration owned by operator. Minimum
// profits start at zero.
func NewManager(operator common.Address, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg: domain.Configuration{
			Operator:   operator,
			MinProfit0: new(uint256.Int),
			MinProfit1: new(uint256.Int),
		},
		now:    time.Now,
		logger: logger.With(slog.String("component", "settings")),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Restore loads the last persisted Configuration, if any.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	cfg, err := m.store.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings: restore: %w", err)
	}
	m.mu.Lock()
	m.cfg = normalize(cfg)
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "configuration restored",
		slog.String("source", string(cfg.SourceVenue)),
		slog.String("destination", string(cfg.DestinationVenue)),
		slog.String("operator", cfg.Operator.Hex()),
	)
	return nil
}

// Snapshot returns a copy of the current Configuration.
func (m *Manager) Snapshot() domain.Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyConfig(m.cfg)
}

// Operator returns the identity allowed to mutate configuration and custody.
func (m *Manager) Operator() common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Operator
}

// Authorize fails with ErrUnauthorized unless caller is the operator.
func (m *Manager) Authorize(caller common.Address) error {
	op := m.Operator()
	if op == (common.Address{}) || caller != op {
		return fmt.Errorf("settings: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// Check inspects the configuration an update would produce. A non-nil error
// rejects the update.
type Check func(next domain.Configuration) error

// Configure applies u in one step. Each check sees the resulting
// configuration under the same lock that applies it, so no other change can
// land between the check and the write.
func (m *Manager) Configure(ctx context.Context, caller common.Address, u Update, checks ...Check) error {
	return m.mutate(ctx, caller, "configure", func(c *domain.Configuration) error {
		if u.SourceVenue != nil {
			c.SourceVenue = *u.SourceVenue
		}
		if u.DestinationVenue != nil {
			c.DestinationVenue = *u.DestinationVenue
		}
		if u.FlashVenue != nil {
			c.FlashVenue = *u.FlashVenue
		}
		if u.Reverse != nil {
			c.Reverse = *u.Reverse
		}
		if u.MinProfit0 != nil {
			c.MinProfit0 = u.MinProfit0.Clone()
		}
		if u.MinProfit1 != nil {
			c.MinProfit1 = u.MinProfit1.Clone()
		}
		for _, check := range checks {
			if err := check(copyConfig(*c)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) SetSourceVenue(ctx context.Context, caller common.Address, id domain.VenueID) error {
	return m.Configure(ctx, caller, Update{SourceVenue: &id})
}

func (m *Manager) SetDestinationVenue(ctx context.Context, caller common.Address, id domain.VenueID) error {
	return m.Configure(ctx, caller, Update{DestinationVenue: &id})
}

func (m *Manager) SetFlashVenue(ctx context.Context, caller common.Address, id domain.VenueID) error {
	return m.Configure(ctx, caller, Update{FlashVenue: &id})
}

func (m *Manager) SetReverse(ctx context.Context, caller common.Address, reverse bool) error {
	return m.Configure(ctx, caller, Update{Reverse: &reverse})
}

func (m *Manager) SetMinProfits(ctx context.Context, caller common.Address, min0, min1 *uint256.Int) error {
	return m.Configure(ctx, caller, Update{MinProfit0: min0, MinProfit1: min1})
}

// TransferOperator hands control to next. Only the current operator may.
func (m *Manager) TransferOperator(ctx context.Context, caller, next common.Address) error {
	if next == (common.Address{}) {
		return fmt.Errorf("settings: transfer operator to zero address: %w", domain.ErrUnauthorized)
	}
	return m.mutate(ctx, caller, "transfer_operator", func(c *domain.Configuration) error {
		c.Operator = next
		return nil
	})
}

// mutate applies fn to a copy and swaps it in only after it is persisted.
// An error from fn leaves the configuration untouched.
func (m *Manager) mutate(ctx context.Context, caller common.Address, action string, fn func(*domain.Configuration) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.Operator == (common.Address{}) || caller != m.cfg.Operator {
		m.logger.WarnContext(ctx, "unauthorized configuration change",
			slog.String("action", action),
			slog.String("caller", caller.Hex()),
		)
		return fmt.Errorf("settings: %s by %s: %w", action, caller.Hex(), domain.ErrUnauthorized)
	}

	next := copyConfig(m.cfg)
	if err := fn(&next); err != nil {
		return fmt.Errorf("settings: %s: %w", action, err)
	}
	next.UpdatedAt = m.now().UTC()

	if m.store != nil {
		if err := m.store.Save(ctx, next); err != nil {
			return fmt.Errorf("settings: persist %s: %w", action, err)
		}
	}
	m.cfg = next
	m.logger.InfoContext(ctx, "configuration updated",
		slog.String("action", action),
		slog.String("source", string(next.SourceVenue)),
		slog.String("destination", string(next.DestinationVenue)),
		slog.String("flash", string(next.FlashVenue)),
		slog.Bool("reverse", next.Reverse),
		slog.String("min_profit0", next.MinProfit0.Dec()),
		slog.String("min_profit1", next.MinProfit1.Dec()),
	)
	return nil
}

func copyConfig(c domain.Configuration) domain.Configuration {
	out := c
	out.MinProfit0 = c.MinProfit0.Clone()
	out.MinProfit1 = c.MinProfit1.Clone()
	return out
}

func normalize(c domain.Configuration) domain.Configuration {
	if c.MinProfit0 == nil {
		c.MinProfit0 = new(uint256.Int)
	}
	if c.MinProfit1 == nil {
		c.MinProfit1 = new(uint256.Int)
	}
	return c
}
