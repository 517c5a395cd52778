package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/metrics"
)

// Forkable is a venue whose state can be replaced by a fresh read.
type Forkable interface {
	ID() domain.VenueID
	SetState(state domain.VenueState)
}

// MonitorConfig tunes a Monitor.
type MonitorConfig struct {
	Interval time.Duration
	MaxInput *uint256.Int
	// Caller is the identity attempts run as, normally the operator.
	Caller   common.Address
	DedupTTL time.Duration
}

// Monitor polls venue state, copies it into forked venues and runs
// SolveAndExecute against the fork. An opportunity already executed within
// DedupTTL is skipped.
type Monitor struct {
	svc    *ArbService
	reader domain.StateSource
	forks  []Forkable
	cfg    MonitorConfig
	dedup  *executor.Dedup
	logger *slog.Logger
}

// NewMonitor creates a Monitor refreshing forks from reader.
func NewMonitor(svc *ArbService, reader domain.StateSource, forks []Forkable, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Minute
	}
	return &Monitor{
		svc:    svc,
		reader: reader,
		forks:  forks,
		cfg:    cfg,
		dedup:  executor.NewDedup(cfg.DedupTTL),
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("venues", len(m.forks)),
	)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.logger.WarnContext(ctx, "monitor tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monitor stopped")
			return nil
		case <-ticker.C:
			m.dedup.Cleanup()
		}
	}
}

// Tick refreshes every fork and runs one attempt. It returns the
// settlement when one happened.
func (m *Monitor) Tick(ctx context.Context) (*domain.Settlement, error) {
	if err := m.Sync(ctx); err != nil {
		return nil, err
	}

	plan, err := m.svc.Quote(ctx, m.cfg.MaxInput)
	if errors.Is(err, domain.ErrNoProfitableTrade) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fp := executor.Fingerprint(plan)
	if m.dedup.IsDuplicate(fp) {
		m.logger.DebugContext(ctx, "opportunity already handled", slog.String("fingerprint", fp))
		return nil, nil
	}

	s, err := m.svc.SolveAndExecute(ctx, m.cfg.Caller, m.cfg.MaxInput)
	if err != nil {
		m.dedup.Forget(fp)
		if errors.Is(err, domain.ErrNoProfitableTrade) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Sync copies the latest state of every venue into its fork. Reads happen
// unlocked; each write waits for attempts using that venue to finish.
func (m *Monitor) Sync(ctx context.Context) error {
	for _, f := range m.forks {
		st, err := m.reader.ReadState(ctx, f.ID())
		if err != nil {
			metrics.StateReadErrors.WithLabelValues(string(f.ID())).Inc()
			return fmt.Errorf("monitor: read %s: %w", f.ID(), err)
		}
		if err := m.svc.UpdateVenue(ctx, f.ID(), func() { f.SetState(st) }); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	}
	return nil
}
