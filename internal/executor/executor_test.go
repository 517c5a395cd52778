package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/custody"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/settings"
	"github.com/alanyoungcy/flasharb/internal/venue/fixture"
	"github.com/alanyoungcy/flasharb/internal/venue/sim"
)

var operator = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func u(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

type harness struct {
	source      *sim.Pool
	destination *sim.Pool
	lender      *sim.Lender
	vault       *custody.Vault
	exec        *Executor
	cfg         domain.Configuration
	plan        domain.ArbitrageResult
	emitted     []domain.Settlement
}

// newHarness forks the default scenario into sim venues and solves it.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newScenarioHarness(t, fixture.Default(), opts...)
}

// scenarioCase is a built-in scenario and the direction its solution takes.
type scenarioCase struct {
	sc  fixture.Scenario
	dir domain.Direction
}

func scenarioCases(t *testing.T) []scenarioCase {
	t.Helper()
	reversed, err := fixture.Builtin("cp-1950-vs-cl-2000-reversed")
	require.NoError(t, err)
	return []scenarioCase{
		{fixture.Default(), domain.OneForZero},
		{reversed, domain.ZeroForOne},
	}
}

func newScenarioHarness(t *testing.T, sc fixture.Scenario, opts ...Option) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	states := map[string]domain.VenueState{}
	for _, v := range sc.Venues {
		st, err := v.State()
		require.NoError(t, err)
		states[v.ID] = st
	}
	balances := map[common.Address]*uint256.Int{}
	for asset, amount := range sc.Lender.Balances {
		balances[common.HexToAddress(asset)] = u(amount)
	}

	h := &harness{
		source:      sim.NewPool(states[sc.Arbitrage.Source]),
		destination: sim.NewPool(states[sc.Arbitrage.Destination]),
		lender:      sim.NewLender(domain.VenueID(sc.Lender.ID), sc.Lender.FeeBps, balances),
	}
	h.vault = custody.NewVault(settings.NewManager(operator, logger), sim.NewLedger(), logger)
	opts = append([]Option{WithEmitter(EmitterFunc(func(_ context.Context, s domain.Settlement) {
		h.emitted = append(h.emitted, s)
	}))}, opts...)
	h.exec = NewExecutor(h.vault, logger, opts...)
	h.cfg = domain.Configuration{
		SourceVenue:      domain.VenueID(sc.Arbitrage.Source),
		DestinationVenue: domain.VenueID(sc.Arbitrage.Destination),
		FlashVenue:       domain.VenueID(sc.Lender.ID),
		Reverse:          sc.Arbitrage.Reverse,
		MinProfit0:       new(uint256.Int),
		MinProfit1:       new(uint256.Int),
		Operator:         operator,
	}

	plan, err := arbitrage.NewSolver().Solve(context.Background(), arbitrage.Problem{
		Source:      states[sc.Arbitrage.Source],
		Destination: states[sc.Arbitrage.Destination],
		FlashVenue:  h.cfg.FlashVenue,
		Reverse:     sc.Arbitrage.Reverse,
		PremiumBps:  sc.Lender.FeeBps,
		MaxInput:    u(sc.Arbitrage.MaxInput),
	})
	require.NoError(t, err)
	h.plan = plan
	return h
}

func (h *harness) legs() Legs {
	return Legs{Lender: h.lender, Source: h.source, Destination: h.destination}
}

// fingerprint renders every balance an attempt could touch.
func (h *harness) fingerprint(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	out := ""
	for _, p := range []*sim.Pool{h.source, h.destination} {
		st, err := p.State(ctx)
		require.NoError(t, err)
		switch s := st.(type) {
		case *domain.ConstantProductState:
			out += fmt.Sprintf("%s:%s/%s;", s.ID, s.Reserve0.Dec(), s.Reserve1.Dec())
		case *domain.ConcentratedState:
			out += fmt.Sprintf("%s:%s/%d/%s;", s.ID, s.SqrtPriceX96.Dec(), s.Tick, s.Liquidity.Dec())
		}
	}
	for _, a := range []common.Address{h.plan.Asset0, h.plan.Asset1} {
		out += fmt.Sprintf("lender:%s;vault:%s;", h.lender.Balance(a).Dec(), h.vault.Balance(a).Dec())
	}
	out += fmt.Sprintf("owed:%d", len(h.lender.Outstanding()))
	return out
}

func TestExecuteSettlesSolvedPlan(t *testing.T) {
	for _, c := range scenarioCases(t) {
		t.Run(c.sc.Name, func(t *testing.T) {
			h := newScenarioHarness(t, c.sc)
			ctx := context.Background()
			require.Equal(t, c.dir, h.plan.Direction)
			require.NoError(t, h.vault.Deposit(h.plan.Asset0, uint256.NewInt(100)))
			lenderBefore := h.lender.Balance(h.plan.BorrowedAsset())

			s, err := h.exec.Execute(ctx, h.legs(), h.cfg, h.plan)
			require.NoError(t, err)

			// the executed trade and the simulation agree to the unit
			assert.Equal(t, h.plan.SwapAmount.Dec(), s.SwapAmount.Dec())
			assert.Equal(t, h.plan.Direction, s.Direction)
			assert.Equal(t, h.plan.BalanceChange0.String(), s.BalanceChange0.String())
			assert.Equal(t, h.plan.BalanceChange1.String(), s.BalanceChange1.String())
			assert.Equal(t, h.plan.Leg1.AmountOut.Dec(), s.Leg1.AmountOut.Dec())
			assert.Equal(t, h.plan.Leg2.AmountOut.Dec(), s.Leg2.AmountOut.Dec())
			assert.Equal(t, h.cfg.DestinationDirection(c.dir), s.Leg2.Direction)
			assert.NotEmpty(t, s.ID)
			assert.False(t, s.SettledAt.IsZero())

			require.Len(t, h.emitted, 1)
			assert.Equal(t, s.ID, h.emitted[0].ID)

			// residual is in custody, next to what was already held
			want0 := new(big.Int).Add(big.NewInt(100), s.BalanceChange0)
			assert.Equal(t, want0.String(), h.vault.Balance(h.plan.Asset0).Dec())
			assert.Equal(t, s.BalanceChange1.String(), h.vault.Balance(h.plan.Asset1).Dec())

			// lender got principal plus premium back
			want := new(uint256.Int).Add(lenderBefore, h.plan.Premium)
			assert.Equal(t, want.Dec(), h.lender.Balance(h.plan.BorrowedAsset()).Dec())
			assert.Empty(t, h.lender.Outstanding())
		})
	}
}

func TestExecuteStalePlanAborts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.exec.Execute(ctx, h.legs(), h.cfg, h.plan)
	require.NoError(t, err)
	after := h.fingerprint(t)

	// same quote against moved venues
	_, err = h.exec.Execute(ctx, h.legs(), h.cfg, h.plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, after, h.fingerprint(t))
	assert.Len(t, h.emitted, 1)
}

func TestExecuteAbortsAtomically(t *testing.T) {
	huge := u("1000000000000000000000")
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness)
		reached State
		reason  error
	}{
		{
			name: "loan unavailable",
			setup: func(t *testing.T, h *harness) {
				h.lender = sim.NewLender(h.lender.ID(), h.lender.FeeBps(), nil)
			},
			reached: StateIdle,
			reason:  domain.ErrLoanUnavailable,
		},
		{
			name: "source moved before leg 1",
			setup: func(t *testing.T, h *harness) {
				cp := sourceState(t, h)
				// halve the reserve leg 1 pays out of
				r0, r1 := cp.Reserve0, cp.Reserve1
				if h.plan.Direction == domain.OneForZero {
					r0 = new(uint256.Int).Rsh(r0, 1)
				} else {
					r1 = new(uint256.Int).Rsh(r1, 1)
				}
				moved := fixture.ConstantProduct(cp.VenueMeta, r0, r1)
				h.source.BeforeSwap = func(p *sim.Pool) error {
					p.SetState(moved)
					return nil
				}
			},
			reached: StateBorrowed,
			reason:  domain.ErrSlippageExceeded,
		},
		{
			name: "destination rejects leg 2",
			setup: func(t *testing.T, h *harness) {
				h.destination.BeforeSwap = func(*sim.Pool) error {
					return errors.New("pool locked")
				}
			},
			reached: StateLeg1Done,
			reason:  domain.ErrRepaymentShortfall,
		},
		{
			name: "leg 2 proceeds below loan",
			setup: func(t *testing.T, h *harness) {
				st, err := h.destination.State(context.Background())
				require.NoError(t, err)
				meta := st.(*domain.ConcentratedState).VenueMeta
				// priced like the source: no gap left to capture
				cp := sourceState(t, h)
				r0, r1 := cp.Reserve0, cp.Reserve1
				if h.cfg.Reverse {
					r0, r1 = r1, r0
				}
				flat := fixture.ConstantProduct(meta, r0, r1)
				h.destination.BeforeSwap = func(p *sim.Pool) error {
					p.SetState(flat)
					return nil
				}
			},
			reached: StateLeg2Done,
			reason:  domain.ErrRepaymentShortfall,
		},
		{
			name: "below minimum profit",
			setup: func(t *testing.T, h *harness) {
				if h.plan.Direction == domain.ZeroForOne {
					h.cfg.MinProfit0 = huge
				} else {
					h.cfg.MinProfit1 = huge
				}
			},
			reached: StateRepaid,
			reason:  domain.ErrBelowMinimumProfit,
		},
		{
			name: "minimum on the other asset",
			setup: func(t *testing.T, h *harness) {
				if h.plan.Direction == domain.ZeroForOne {
					h.cfg.MinProfit1 = uint256.NewInt(1)
				} else {
					h.cfg.MinProfit0 = uint256.NewInt(1)
				}
			},
			reached: StateRepaid,
			reason:  domain.ErrBelowMinimumProfit,
		},
	}

	for _, c := range scenarioCases(t) {
		for _, tt := range tests {
			t.Run(c.sc.Name+"/"+tt.name, func(t *testing.T) {
				h := newScenarioHarness(t, c.sc)
				require.Equal(t, c.dir, h.plan.Direction)
				require.NoError(t, h.vault.Deposit(h.plan.Asset0, uint256.NewInt(42)))
				require.NoError(t, h.vault.Deposit(h.plan.Asset1, uint256.NewInt(7)))
				tt.setup(t, h)
				before := h.fingerprint(t)

				_, err := h.exec.Execute(context.Background(), h.legs(), h.cfg, h.plan)
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.reason)
				assert.True(t, domain.IsAbort(err))

				var abort *AbortError
				require.ErrorAs(t, err, &abort)
				assert.Equal(t, tt.reached, abort.State)

				assert.Equal(t, before, h.fingerprint(t), "state must match the pre-attempt snapshot")
				assert.Empty(t, h.emitted)
			})
		}
	}
}

func sourceState(t *testing.T, h *harness) *domain.ConstantProductState {
	t.Helper()
	st, err := h.source.State(context.Background())
	require.NoError(t, err)
	return st.(*domain.ConstantProductState)
}

func TestExecuteSlippageTolerance(t *testing.T) {
	h := newHarness(t, WithMaxSlippageBps(100))
	st, err := h.source.State(context.Background())
	require.NoError(t, err)
	cp := st.(*domain.ConstantProductState)

	// nudge the source by a hair: within 1%
	nudged := fixture.ConstantProduct(cp.VenueMeta, u("1999000000000000000000"), cp.Reserve1)
	h.source.BeforeSwap = func(p *sim.Pool) error {
		p.SetState(nudged)
		return nil
	}
	// the trade still pays; residual differs from the quote
	s, err := h.exec.Execute(context.Background(), h.legs(), h.cfg, h.plan)
	require.NoError(t, err)
	assert.True(t, s.Leg1.AmountOut.Lt(h.plan.Leg1.AmountOut))
}

func TestExecuteRejectsIncompletePlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.exec.Execute(ctx, Legs{Source: h.source}, h.cfg, h.plan)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)

	empty := h.plan
	empty.SwapAmount = new(uint256.Int)
	_, err = h.exec.Execute(ctx, h.legs(), h.cfg, empty)
	assert.ErrorIs(t, err, domain.ErrNoProfitableTrade)
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))

	d.Forget("a")
	assert.False(t, d.IsDuplicate("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
	assert.False(t, d.IsDuplicate("a"))
}

func TestFingerprint(t *testing.T) {
	h := newHarness(t)
	a := Fingerprint(h.plan)
	assert.Equal(t, a, Fingerprint(h.plan))

	flipped := h.plan
	flipped.Direction = flipped.Direction.Opposite()
	assert.NotEqual(t, a, Fingerprint(flipped))

	assert.NotPanics(t, func() { Fingerprint(domain.ArbitrageResult{}) })
}
