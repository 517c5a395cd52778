package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/custody"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/fixedpoint"
)

// State is a step of one attempt.
type State string

const (
	StateIdle     State = "idle"
	StateBorrowed State = "borrowed"
	StateLeg1Done State = "leg1_done"
	StateLeg2Done State = "leg2_done"
	StateRepaid   State = "repaid"
	StateSettled  State = "settled"
	StateAborted  State = "aborted"
)

// AbortError reports the last state an aborted attempt reached. It unwraps
// to the abort reason.
type AbortError struct {
	State State
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("executor: aborted after %s: %v", e.State, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// Emitter receives each settlement exactly once.
type Emitter interface {
	EmitSettlement(ctx context.Context, s domain.Settlement)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, s domain.Settlement)

func (f EmitterFunc) EmitSettlement(ctx context.Context, s domain.Settlement) { f(ctx, s) }

// Legs are the collaborators of one attempt.
type Legs struct {
	Lender      domain.FlashLender
	Source      domain.LiquidityVenue
	Destination domain.LiquidityVenue
}

// Executor drives attempts through
// idle → borrowed → leg1_done → leg2_done → repaid → settled.
// A failure at any step reverts every collaborator to its checkpoint and
// drops the attempt's staged custody, so an aborted attempt has no effect.
type Executor struct {
	vault          *custody.Vault
	emitter        Emitter
	maxSlippageBps uint32
	now            func() time.Time
	newID          func() string
	logger         *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithEmitter sets the settlement sink.
func WithEmitter(em Emitter) Option {
	return func(e *Executor) { e.emitter = em }
}

// WithMaxSlippageBps tolerates leg-1 output up to bps below the quote.
func WithMaxSlippageBps(bps uint32) Option {
	return func(e *Executor) {
		if bps <= domain.MaxFeeBps {
			e.maxSlippageBps = bps
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor that settles residuals into vault.
func NewExecutor(vault *custody.Vault, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		vault:  vault,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: logger.With(slog.String("component", "executor")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// checkpoint is one journal entry.
type checkpoint struct {
	name string
	j    domain.Journaled
	id   int
}

// attempt is the mutable state of one Execute call.
type attempt struct {
	state   State
	journal []checkpoint
	staged  *custody.Staged
}

// Execute runs plan against legs. plan is the solver's quote; cfg supplies
// the reverse flag and minimum profits. On success the residual is committed
// to custody and the settlement is emitted.
func (e *Executor) Execute(ctx context.Context, legs Legs, cfg domain.Configuration, plan domain.ArbitrageResult) (domain.Settlement, error) {
	if legs.Lender == nil || legs.Source == nil || legs.Destination == nil {
		return domain.Settlement{}, fmt.Errorf("executor: execute: %w", domain.ErrNotConfigured)
	}
	if plan.SwapAmount == nil || plan.SwapAmount.IsZero() {
		return domain.Settlement{}, fmt.Errorf("executor: execute: %w", domain.ErrNoProfitableTrade)
	}

	log := e.logger.With(
		slog.String("source", string(legs.Source.ID())),
		slog.String("destination", string(legs.Destination.ID())),
		slog.String("lender", string(legs.Lender.ID())),
		slog.String("direction", plan.Direction.String()),
		slog.String("swap_amount", plan.SwapAmount.Dec()),
	)

	a := &attempt{state: StateIdle, staged: e.vault.Stage()}
	for _, c := range []struct {
		name string
		j    domain.Journaled
	}{
		{"lender", legs.Lender},
		{"source", legs.Source},
		{"destination", legs.Destination},
	} {
		id, err := c.j.Checkpoint(ctx)
		if err != nil {
			e.rollback(ctx, a, log)
			return domain.Settlement{}, fmt.Errorf("executor: checkpoint %s: %w", c.name, err)
		}
		a.journal = append(a.journal, checkpoint{name: c.name, j: c.j, id: id})
	}

	settlement, err := e.run(ctx, a, legs, cfg, plan)
	if err != nil {
		reached := a.state
		e.rollback(ctx, a, log)
		log.WarnContext(ctx, "attempt aborted",
			slog.String("state_reached", string(reached)),
			slog.String("reason", err.Error()),
		)
		return domain.Settlement{}, &AbortError{State: reached, Err: err}
	}

	a.state = StateSettled
	e.release(ctx, a, log)
	log.InfoContext(ctx, "attempt settled",
		slog.String("settlement_id", settlement.ID),
		slog.String("balance_change0", settlement.BalanceChange0.String()),
		slog.String("balance_change1", settlement.BalanceChange1.String()),
	)
	if e.emitter != nil {
		e.emitter.EmitSettlement(ctx, settlement)
	}
	return settlement, nil
}

func (e *Executor) run(ctx context.Context, a *attempt, legs Legs, cfg domain.Configuration, plan domain.ArbitrageResult) (domain.Settlement, error) {
	dir := plan.Direction
	amount := plan.SwapAmount
	borrowed, other := plan.Asset0, plan.Asset1
	if dir == domain.OneForZero {
		borrowed, other = other, borrowed
	}

	// idle → borrowed
	received, err := legs.Lender.Borrow(ctx, borrowed, amount)
	if err != nil {
		return domain.Settlement{}, asAbort(err, domain.ErrLoanUnavailable)
	}
	if received == nil || received.Lt(amount) {
		return domain.Settlement{}, fmt.Errorf("executor: lender sent %s of %s: %w", decOrZero(received), amount.Dec(), domain.ErrLoanUnavailable)
	}
	if err := a.staged.Credit(borrowed, received); err != nil {
		return domain.Settlement{}, err
	}
	premium, err := arbitrage.Premium(amount, legs.Lender.FeeBps())
	if err != nil {
		return domain.Settlement{}, err
	}
	a.state = StateBorrowed

	// borrowed → leg1_done
	if err := a.staged.Debit(borrowed, amount); err != nil {
		return domain.Settlement{}, err
	}
	out1, err := legs.Source.Swap(ctx, amount, dir)
	if err != nil {
		return domain.Settlement{}, asAbort(err, domain.ErrSlippageExceeded)
	}
	if err := e.checkSlippage(plan.Leg1.AmountOut, out1); err != nil {
		return domain.Settlement{}, err
	}
	if err := a.staged.Credit(other, out1); err != nil {
		return domain.Settlement{}, err
	}
	a.state = StateLeg1Done

	// leg1_done → leg2_done
	if err := a.staged.Debit(other, out1); err != nil {
		return domain.Settlement{}, err
	}
	destDir := cfg.DestinationDirection(dir)
	out2, err := legs.Destination.Swap(ctx, out1, destDir)
	if err != nil {
		return domain.Settlement{}, asAbort(err, domain.ErrRepaymentShortfall)
	}
	if err := a.staged.Credit(borrowed, out2); err != nil {
		return domain.Settlement{}, err
	}
	a.state = StateLeg2Done

	// leg2_done → repaid
	owed, err := fixedpoint.AddChecked(amount, premium)
	if err != nil {
		return domain.Settlement{}, err
	}
	if err := a.staged.Debit(borrowed, owed); err != nil {
		return domain.Settlement{}, fmt.Errorf("executor: owe %s, hold %s: %w",
			owed.Dec(), a.staged.Available(borrowed).Dec(), domain.ErrRepaymentShortfall)
	}
	if err := legs.Lender.Repay(ctx, borrowed, owed); err != nil {
		return domain.Settlement{}, asAbort(err, domain.ErrRepaymentShortfall)
	}
	a.state = StateRepaid

	// repaid → settled
	bc0 := a.staged.Available(plan.Asset0)
	bc1 := a.staged.Available(plan.Asset1)
	if bc0.Lt(orZero(cfg.MinProfit0)) || bc1.Lt(orZero(cfg.MinProfit1)) {
		return domain.Settlement{}, fmt.Errorf("executor: residuals %s/%s below minimums %s/%s: %w",
			bc0.Dec(), bc1.Dec(), orZero(cfg.MinProfit0).Dec(), orZero(cfg.MinProfit1).Dec(), domain.ErrBelowMinimumProfit)
	}
	if err := a.staged.Commit(); err != nil {
		return domain.Settlement{}, err
	}

	res := plan
	res.SwapAmount = amount.Clone()
	res.BalanceChange0 = bc0.ToBig()
	res.BalanceChange1 = bc1.ToBig()
	res.FlashVenue = legs.Lender.ID()
	res.Premium = premium
	res.Leg1 = domain.TradeQuote{Venue: legs.Source.ID(), Direction: dir, AmountIn: amount.Clone(), AmountOut: out1, Fee: plan.Leg1.Fee}
	res.Leg2 = domain.TradeQuote{Venue: legs.Destination.ID(), Direction: destDir, AmountIn: out1.Clone(), AmountOut: out2, Fee: plan.Leg2.Fee}

	return domain.Settlement{
		ID:              e.newID(),
		ArbitrageResult: res,
		SettledAt:       e.now().UTC(),
	}, nil
}

// checkSlippage requires got to reach quoted less the tolerance.
func (e *Executor) checkSlippage(quoted, got *uint256.Int) error {
	if quoted == nil {
		return nil
	}
	slack, err := fixedpoint.BpsOf(quoted, e.maxSlippageBps)
	if err != nil {
		return err
	}
	floor := new(uint256.Int).Sub(quoted, slack)
	if got.Lt(floor) {
		return fmt.Errorf("executor: leg 1 returned %s, quoted %s: %w", got.Dec(), quoted.Dec(), domain.ErrSlippageExceeded)
	}
	return nil
}

// rollback reverts collaborators newest first and drops staged custody.
func (e *Executor) rollback(ctx context.Context, a *attempt, log *slog.Logger) {
	a.staged.Discard()
	for i := len(a.journal) - 1; i >= 0; i-- {
		c := a.journal[i]
		if err := c.j.Revert(ctx, c.id); err != nil {
			log.ErrorContext(ctx, "revert failed",
				slog.String("collaborator", c.name),
				slog.String("error", err.Error()),
			)
		}
	}
	a.journal = nil
	a.state = StateAborted
}

func (e *Executor) release(ctx context.Context, a *attempt, log *slog.Logger) {
	for i := len(a.journal) - 1; i >= 0; i-- {
		c := a.journal[i]
		if err := c.j.Release(ctx, c.id); err != nil {
			log.WarnContext(ctx, "release checkpoint failed",
				slog.String("collaborator", c.name),
				slog.String("error", err.Error()),
			)
		}
	}
	a.journal = nil
}

// asAbort keeps err's own abort reason, or tags it with reason.
func asAbort(err, reason error) error {
	if domain.IsAbort(err) || errors.Is(err, domain.ErrArithmeticOverflow) {
		return err
	}
	return fmt.Errorf("%w: %w", reason, err)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func decOrZero(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
