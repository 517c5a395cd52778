package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/custody"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/settings"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

const defaultLockTTL = 30 * time.Second

// ArbConfig holds the tunables of one ArbService.
type ArbConfig struct {
	// MaxInput caps the solver's search when the caller passes none.
	MaxInput       *uint256.Int
	MaxSlippageBps uint32
	LockTTL        time.Duration
}

// Deps are the collaborators of an ArbService. Settings, Registry and Vault
// are required; the rest may be nil.
type Deps struct {
	Settings    *settings.Manager
	Registry    *venue.Registry
	Vault       *custody.Vault
	Solver      *arbitrage.Solver
	Settlements domain.SettlementStore
	Attempts    domain.AttemptStore
	Audit       domain.AuditStore
	Locks       domain.LockManager
	Bus         domain.SignalBus
	Notifier    *notify.Notifier
}

// ArbService is the entry point for solving, executing, configuring and
// withdrawing. Attempts that share any venue, lender included, never
// interleave, and fork refreshes wait for them.
type ArbService struct {
	settings    *settings.Manager
	registry    *venue.Registry
	vault       *custody.Vault
	solver      *arbitrage.Solver
	exec        *executor.Executor
	settlements domain.SettlementStore
	attempts    domain.AttemptStore
	audit       domain.AuditStore
	locks       domain.LockManager
	bus         domain.SignalBus
	notifier    *notify.Notifier
	cfg         ArbConfig

	venueMu    sync.Mutex
	venueLocks map[domain.VenueID]*sync.Mutex

	listenMu  sync.RWMutex
	listeners []func(domain.Settlement)

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewArbService creates an ArbService and the executor it drives.
func NewArbService(d Deps, cfg ArbConfig, logger *slog.Logger) *ArbService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if d.Solver == nil {
		d.Solver = arbitrage.NewSolver()
	}
	s := &ArbService{
		settings:    d.Settings,
		registry:    d.Registry,
		vault:       d.Vault,
		solver:      d.Solver,
		settlements: d.Settlements,
		attempts:    d.Attempts,
		audit:       d.Audit,
		locks:       d.Locks,
		bus:         d.Bus,
		notifier:    d.Notifier,
		cfg:         cfg,
		venueLocks:  make(map[domain.VenueID]*sync.Mutex),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		logger:      logger.With(slog.String("component", "arb_service")),
	}
	s.exec = executor.NewExecutor(d.Vault, logger,
		executor.WithEmitter(s),
		executor.WithMaxSlippageBps(cfg.MaxSlippageBps),
	)
	return s
}

// OnSettlement registers fn to run after each settlement is recorded.
func (s *ArbService) OnSettlement(fn func(domain.Settlement)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Configuration returns the current configuration snapshot.
func (s *ArbService) Configuration() domain.Configuration {
	return s.settings.Snapshot()
}

// Configure applies u after checking it names known, distinct venues.
func (s *ArbService) Configure(ctx context.Context, caller common.Address, u settings.Update) error {
	if err := s.settings.Authorize(caller); err != nil {
		return fmt.Errorf("arb_service: configure: %w", err)
	}
	if err := s.settings.Configure(ctx, caller, u, s.checkUpdate(u)); err != nil {
		return fmt.Errorf("arb_service: configure: %w", err)
	}
	cfg := s.settings.Snapshot()
	s.auditLog(ctx, "configure", map[string]any{
		"caller":      caller.Hex(),
		"source":      cfg.SourceVenue,
		"destination": cfg.DestinationVenue,
		"flash":       cfg.FlashVenue,
		"reverse":     cfg.Reverse,
		"min_profit0": cfg.MinProfit0.Dec(),
		"min_profit1": cfg.MinProfit1.Dec(),
	})
	return nil
}

// checkUpdate validates the configuration u produces. Venues u names must
// be registered. The flash venue is locked for the duration of a loan, so it
// cannot also be a traded venue.
func (s *ArbService) checkUpdate(u settings.Update) settings.Check {
	return func(next domain.Configuration) error {
		if u.SourceVenue != nil {
			if _, err := s.registry.Venue(*u.SourceVenue); err != nil {
				return err
			}
		}
		if u.DestinationVenue != nil {
			if _, err := s.registry.Venue(*u.DestinationVenue); err != nil {
				return err
			}
		}
		if u.FlashVenue != nil {
			if _, err := s.registry.Lender(*u.FlashVenue); err != nil {
				return err
			}
		}
		if next.SourceVenue != "" && next.SourceVenue == next.DestinationVenue {
			return fmt.Errorf("source and destination are both %q: %w", next.SourceVenue, domain.ErrInvalidConfig)
		}
		if next.FlashVenue != "" && (next.FlashVenue == next.SourceVenue || next.FlashVenue == next.DestinationVenue) {
			return fmt.Errorf("flash venue %q is also traded: %w", next.FlashVenue, domain.ErrInvalidConfig)
		}
		return nil
	}
}

// TransferOperator hands configuration and custody rights to next.
func (s *ArbService) TransferOperator(ctx context.Context, caller, next common.Address) error {
	if err := s.settings.TransferOperator(ctx, caller, next); err != nil {
		return fmt.Errorf("arb_service: transfer operator: %w", err)
	}
	s.auditLog(ctx, "transfer_operator", map[string]any{"from": caller.Hex(), "to": next.Hex()})
	return nil
}

// Retrieve withdraws custody funds to dest.
func (s *ArbService) Retrieve(ctx context.Context, caller, asset common.Address, amount *uint256.Int, dest common.Address) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if err := s.vault.Retrieve(ctx, caller, asset, amount, dest); err != nil {
		return fmt.Errorf("arb_service: retrieve: %w", err)
	}
	s.auditLog(ctx, "retrieve", map[string]any{
		"asset":       asset.Hex(),
		"amount":      amount.Dec(),
		"destination": dest.Hex(),
	})
	if err := s.notifier.Retrieved(ctx, asset.Hex(), amount.Dec(), dest.Hex()); err != nil {
		s.logger.WarnContext(ctx, "retrieve notification failed", slog.String("error", err.Error()))
	}
	return nil
}

// Balances lists custody holdings.
func (s *ArbService) Balances() []custody.Balance {
	return s.vault.Balances()
}

// Quote solves against current venue state without executing.
func (s *ArbService) Quote(ctx context.Context, maxInput *uint256.Int) (domain.ArbitrageResult, error) {
	cfg := s.settings.Snapshot()
	legs, err := s.resolve(cfg)
	if err != nil {
		return domain.ArbitrageResult{}, fmt.Errorf("arb_service: quote: %w", err)
	}
	plan, err := s.solve(ctx, cfg, legs, maxInput)
	if err != nil {
		return domain.ArbitrageResult{}, fmt.Errorf("arb_service: quote: %w", err)
	}
	return plan, nil
}

// SolveAndExecute sizes the best round trip and executes it atomically.
// domain.ErrNoProfitableTrade is a normal outcome; any abort leaves venue
// and custody state as it was.
func (s *ArbService) SolveAndExecute(ctx context.Context, caller common.Address, maxInput *uint256.Int) (domain.Settlement, error) {
	if err := s.settings.Authorize(caller); err != nil {
		return domain.Settlement{}, fmt.Errorf("arb_service: execute: %w", err)
	}
	cfg := s.settings.Snapshot()
	legs, err := s.resolve(cfg)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("arb_service: execute: %w", err)
	}

	unlock, err := s.lockPair(ctx, cfg)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("arb_service: execute: %w", err)
	}
	defer unlock()

	plan, err := s.solve(ctx, cfg, legs, maxInput)
	if errors.Is(err, domain.ErrNoProfitableTrade) {
		metrics.Attempts.WithLabelValues(string(domain.AttemptNoTrade)).Inc()
		s.recordAttempt(ctx, domain.Attempt{
			VenueA: cfg.SourceVenue,
			VenueB: cfg.DestinationVenue,
			Status: domain.AttemptNoTrade,
		})
		s.logger.DebugContext(ctx, "no profitable trade",
			slog.String("pair", cfg.PairKey()),
		)
		return domain.Settlement{}, err
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("arb_service: execute: %w", err)
	}

	settlement, err := s.exec.Execute(ctx, legs, cfg, plan)
	if err != nil {
		s.aborted(ctx, cfg, plan, err)
		return domain.Settlement{}, fmt.Errorf("arb_service: execute: %w", err)
	}
	s.recordAttempt(ctx, domain.Attempt{
		ID:           settlement.ID,
		VenueA:       settlement.VenueA,
		VenueB:       settlement.VenueB,
		Direction:    settlement.Direction,
		SwapAmount:   settlement.SwapAmount,
		Status:       domain.AttemptSettled,
		StateReached: string(executor.StateSettled),
	})
	return settlement, nil
}

// Settlement returns a recorded settlement.
func (s *ArbService) Settlement(ctx context.Context, id string) (domain.Settlement, error) {
	if s.settlements == nil {
		return domain.Settlement{}, fmt.Errorf("arb_service: settlement %q: %w", id, domain.ErrNotFound)
	}
	st, err := s.settlements.GetByID(ctx, id)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("arb_service: settlement %q: %w", id, err)
	}
	return st, nil
}

// Settlements lists recorded settlements, newest first.
func (s *ArbService) Settlements(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	if s.settlements == nil {
		return nil, nil
	}
	out, err := s.settlements.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list settlements: %w", err)
	}
	return out, nil
}

// Attempts lists recorded attempts, newest first.
func (s *ArbService) Attempts(ctx context.Context, opts domain.ListOpts) ([]domain.Attempt, error) {
	if s.attempts == nil {
		return nil, nil
	}
	out, err := s.attempts.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list attempts: %w", err)
	}
	return out, nil
}

// EmitSettlement records and broadcasts a settlement. The executor calls it
// exactly once per settled attempt; by then custody is committed, so
// failures here are logged rather than returned.
func (s *ArbService) EmitSettlement(ctx context.Context, st domain.Settlement) {
	metrics.Settlements.Inc()
	metrics.Attempts.WithLabelValues(string(domain.AttemptSettled)).Inc()

	if s.settlements != nil {
		if err := s.settlements.Create(ctx, st); err != nil {
			s.logger.ErrorContext(ctx, "record settlement failed",
				slog.String("settlement_id", st.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(st)
		if err == nil {
			if err := s.bus.Publish(ctx, domain.ChannelSettlements, payload); err != nil {
				s.logger.WarnContext(ctx, "publish settlement failed", slog.String("error", err.Error()))
			}
			if err := s.bus.StreamAppend(ctx, domain.StreamSettlements, payload); err != nil {
				s.logger.WarnContext(ctx, "append settlement stream failed", slog.String("error", err.Error()))
			}
		}
	}

	s.auditLog(ctx, "settlement", map[string]any{
		"settlement_id":   st.ID,
		"swap_amount":     decimal(st.SwapAmount),
		"direction":       st.Direction.String(),
		"balance_change0": st.BalanceChange0.String(),
		"balance_change1": st.BalanceChange1.String(),
	})

	if err := s.notifier.Settled(ctx, st); err != nil {
		s.logger.WarnContext(ctx, "settlement notification failed", slog.String("error", err.Error()))
	}

	s.listenMu.RLock()
	listeners := s.listeners
	s.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// resolve looks up the three collaborators named by cfg.
func (s *ArbService) resolve(cfg domain.Configuration) (executor.Legs, error) {
	if !cfg.Ready() {
		return executor.Legs{}, domain.ErrNotConfigured
	}
	src, err := s.registry.Venue(cfg.SourceVenue)
	if err != nil {
		return executor.Legs{}, err
	}
	dst, err := s.registry.Venue(cfg.DestinationVenue)
	if err != nil {
		return executor.Legs{}, err
	}
	lender, err := s.registry.Lender(cfg.FlashVenue)
	if err != nil {
		return executor.Legs{}, err
	}
	return executor.Legs{Lender: lender, Source: src, Destination: dst}, nil
}

func (s *ArbService) solve(ctx context.Context, cfg domain.Configuration, legs executor.Legs, maxInput *uint256.Int) (domain.ArbitrageResult, error) {
	if maxInput == nil || maxInput.IsZero() {
		maxInput = s.cfg.MaxInput
	}
	if maxInput == nil || maxInput.IsZero() {
		return domain.ArbitrageResult{}, fmt.Errorf("max input not set: %w", domain.ErrNotConfigured)
	}

	srcState, err := legs.Source.State(ctx)
	if err != nil {
		metrics.StateReadErrors.WithLabelValues(string(cfg.SourceVenue)).Inc()
		return domain.ArbitrageResult{}, fmt.Errorf("read %s: %w", cfg.SourceVenue, err)
	}
	dstState, err := legs.Destination.State(ctx)
	if err != nil {
		metrics.StateReadErrors.WithLabelValues(string(cfg.DestinationVenue)).Inc()
		return domain.ArbitrageResult{}, fmt.Errorf("read %s: %w", cfg.DestinationVenue, err)
	}

	start := time.Now()
	plan, err := s.solver.Solve(ctx, arbitrage.Problem{
		Source:      srcState,
		Destination: dstState,
		FlashVenue:  cfg.FlashVenue,
		Reverse:     cfg.Reverse,
		PremiumBps:  legs.Lender.FeeBps(),
		MaxInput:    maxInput,
	})
	metrics.SolveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrNoProfitableTrade) {
			return domain.ArbitrageResult{}, err
		}
		return domain.ArbitrageResult{}, fmt.Errorf("solve: %w", err)
	}
	return plan, nil
}

// UpdateVenue runs apply while no attempt in this process uses venue id.
// Fork refreshes go through it so fresh state never lands between the legs
// of an attempt or gets overwritten by its rollback.
func (s *ArbService) UpdateVenue(ctx context.Context, id domain.VenueID, apply func()) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("arb_service: update %s: %w", id, err)
	}
	unlock := s.lockVenues(id)
	defer unlock()
	apply()
	return nil
}

// lockPair holds every venue of cfg within this process and, when a
// LockManager is wired, the pair key across instances.
func (s *ArbService) lockPair(ctx context.Context, cfg domain.Configuration) (func(), error) {
	unlockVenues := s.lockVenues(cfg.Venues()...)
	if s.locks == nil {
		return unlockVenues, nil
	}
	release, err := s.locks.Acquire(ctx, "pair:"+cfg.PairKey(), s.cfg.LockTTL)
	if err != nil {
		unlockVenues()
		return nil, err
	}
	return func() {
		release()
		unlockVenues()
	}, nil
}

// lockVenues takes the local lock of each venue in sorted order.
func (s *ArbService) lockVenues(ids ...domain.VenueID) func() {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	s.venueMu.Lock()
	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		mu, ok := s.venueLocks[id]
		if !ok {
			mu = &sync.Mutex{}
			s.venueLocks[id] = mu
		}
		held = append(held, mu)
	}
	s.venueMu.Unlock()

	for _, mu := range held {
		mu.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// aborted records, publishes and announces an aborted attempt.
func (s *ArbService) aborted(ctx context.Context, cfg domain.Configuration, plan domain.ArbitrageResult, err error) {
	state := string(executor.StateIdle)
	var ae *executor.AbortError
	if errors.As(err, &ae) {
		state = string(ae.State)
	}
	reason := AbortReason(err)
	metrics.Attempts.WithLabelValues(string(domain.AttemptAborted)).Inc()
	metrics.Aborts.WithLabelValues(reason, state).Inc()

	a := domain.Attempt{
		ID:           s.newID(),
		VenueA:       cfg.SourceVenue,
		VenueB:       cfg.DestinationVenue,
		Direction:    plan.Direction,
		SwapAmount:   plan.SwapAmount,
		Status:       domain.AttemptAborted,
		Reason:       reason,
		StateReached: state,
	}
	s.recordAttempt(ctx, a)

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":         "abort",
			"id":            a.ID,
			"venue_a":       a.VenueA,
			"venue_b":       a.VenueB,
			"direction":     a.Direction,
			"swap_amount":   decimal(a.SwapAmount),
			"reason":        a.Reason,
			"state_reached": a.StateReached,
		})
		if pubErr := s.bus.Publish(ctx, domain.ChannelAborts, payload); pubErr != nil {
			s.logger.WarnContext(ctx, "publish abort failed", slog.String("error", pubErr.Error()))
		}
	}
	if nErr := s.notifier.Aborted(ctx, a); nErr != nil {
		s.logger.WarnContext(ctx, "abort notification failed", slog.String("error", nErr.Error()))
	}
}

func (s *ArbService) recordAttempt(ctx context.Context, a domain.Attempt) {
	if s.attempts == nil {
		return
	}
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := s.attempts.Record(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "record attempt failed",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ArbService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// AbortReason names the taxonomy entry err belongs to.
func AbortReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrLoanUnavailable):
		return "loan_unavailable"
	case errors.Is(err, domain.ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, domain.ErrRepaymentShortfall):
		return "repayment_shortfall"
	case errors.Is(err, domain.ErrBelowMinimumProfit):
		return "below_minimum_profit"
	case errors.Is(err, domain.ErrArithmeticOverflow):
		return "arithmetic_overflow"
	default:
		return "internal"
	}
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
