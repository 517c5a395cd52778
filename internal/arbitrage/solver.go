// Package arbitrage sizes two-venue round trips. The solver searches integer
// input amounts for the one that maximizes profit after both legs and the
// flash premium, using only integer arithmetic.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/curve"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/fixedpoint"
)

const (
	defaultRefineSteps  = 64
	maxRefineIterations = 4096

	// Ranges up to exhaustiveLimit are scanned in full. Integer rounding
	// makes small pools lumpy enough to mislead the ternary search.
	exhaustiveLimit = 1 << 14
	// scanMargin widens the window left by the ternary search before the
	// final linear scan.
	scanMargin = 256
)

// Problem is one sizing request. Source defines asset order; Destination is
// read through the Reverse flag.
type Problem struct {
	Source      domain.VenueState
	Destination domain.VenueState
	FlashVenue  domain.VenueID
	Reverse     bool
	PremiumBps  uint32
	MaxInput    *uint256.Int
	// Directions restricts the search. Empty means both.
	Directions []domain.Direction
}

// Solver is stateless and safe for concurrent use.
type Solver struct {
	refineSteps int
}

// Option configures a Solver.
type Option func(*Solver)

// WithRefineSteps bounds how far the solver slides down across equal-profit
// neighbours after the ternary search.
func WithRefineSteps(n int) Option {
	return func(s *Solver) {
		if n >= 0 {
			s.refineSteps = n
		}
	}
}

// NewSolver creates a Solver.
func NewSolver(opts ...Option) *Solver {
	s := &Solver{refineSteps: defaultRefineSteps}
	for _, o := range opts {
		o(s)
	}
	return s
}

// candidate is one evaluated input amount.
type candidate struct {
	dir     domain.Direction
	amount  *uint256.Int
	profit  *big.Int
	premium *uint256.Int
	leg1    domain.TradeQuote
	leg2    domain.TradeQuote
}

// Solve returns the most profitable round trip or domain.ErrNoProfitableTrade.
func (s *Solver) Solve(ctx context.Context, p Problem) (domain.ArbitrageResult, error) {
	if p.Source == nil || p.Destination == nil {
		return domain.ArbitrageResult{}, fmt.Errorf("arbitrage: solve: %w", domain.ErrInvalidVenueState)
	}
	if err := p.Source.Validate(); err != nil {
		return domain.ArbitrageResult{}, fmt.Errorf("arbitrage: source: %w", err)
	}
	if err := p.Destination.Validate(); err != nil {
		return domain.ArbitrageResult{}, fmt.Errorf("arbitrage: destination: %w", err)
	}
	src0, src1 := p.Source.Assets()
	dst0, dst1 := p.Destination.Assets()
	if p.Reverse {
		dst0, dst1 = dst1, dst0
	}
	if src0 != dst0 || src1 != dst1 {
		return domain.ArbitrageResult{}, fmt.Errorf("arbitrage: venues %s and %s do not share an asset order (reverse=%t): %w",
			p.Source.Venue(), p.Destination.Venue(), p.Reverse, domain.ErrInvalidVenueState)
	}
	if p.MaxInput == nil || p.MaxInput.IsZero() {
		return domain.ArbitrageResult{}, domain.ErrNoProfitableTrade
	}

	dirs := p.Directions
	if len(dirs) == 0 {
		dirs = []domain.Direction{domain.ZeroForOne, domain.OneForZero}
	}

	var best *candidate
	for _, dir := range dirs {
		c, err := s.search(ctx, p, dir)
		if err != nil {
			return domain.ArbitrageResult{}, err
		}
		if c == nil {
			continue
		}
		if best == nil || better(c, best) {
			best = c
		}
	}
	if best == nil {
		return domain.ArbitrageResult{}, domain.ErrNoProfitableTrade
	}
	return s.result(p, best), nil
}

// search runs a ternary search over [1, MaxInput] for one direction, scans
// the remaining window widened by scanMargin and walks to a local ±1
// optimum. Small ranges skip the ternary search and are scanned whole.
func (s *Solver) search(ctx context.Context, p Problem, dir domain.Direction) (*candidate, error) {
	lo := uint256.NewInt(1)
	hi := p.MaxInput.Clone()
	two := uint256.NewInt(2)
	three := uint256.NewInt(3)

	for p.MaxInput.GtUint64(exhaustiveLimit) {
		width := new(uint256.Int).Sub(hi, lo)
		if hi.Lt(lo) || !width.Gt(two) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("arbitrage: search: %w", err)
		}
		third := new(uint256.Int).Div(width, three)
		m1 := new(uint256.Int).Add(lo, third)
		m2 := new(uint256.Int).Sub(hi, third)

		c1, err := s.evaluate(p, dir, m1)
		if err != nil {
			return nil, err
		}
		if c1 == nil {
			hi = m1.SubUint64(m1, 1)
			continue
		}
		c2, err := s.evaluate(p, dir, m2)
		if err != nil {
			return nil, err
		}
		if c2 == nil || c1.profit.Cmp(c2.profit) >= 0 {
			hi = m2.SubUint64(m2, 1)
		} else {
			lo = m1.AddUint64(m1, 1)
		}
	}

	if p.MaxInput.GtUint64(exhaustiveLimit) {
		lo, hi = widen(lo, hi, p.MaxInput)
	}

	var best *candidate
	for x := lo.Clone(); !x.Gt(hi); x = new(uint256.Int).AddUint64(x, 1) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("arbitrage: search: %w", err)
		}
		c, err := s.evaluate(p, dir, x)
		if err != nil {
			return nil, err
		}
		if c != nil && (best == nil || c.profit.Cmp(best.profit) > 0) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}

	best, err := s.refine(p, dir, best)
	if err != nil {
		return nil, err
	}
	if best.profit.Sign() <= 0 {
		return nil, nil
	}
	return best, nil
}

// widen grows [lo, hi] by scanMargin on each side, kept inside [1, limit].
func widen(lo, hi, limit *uint256.Int) (*uint256.Int, *uint256.Int) {
	wlo := uint256.NewInt(1)
	if lo.GtUint64(scanMargin) {
		wlo.SubUint64(lo, scanMargin)
	}
	whi, overflow := new(uint256.Int).AddOverflow(hi, uint256.NewInt(scanMargin))
	if overflow || whi.Gt(limit) {
		whi = limit.Clone()
	}
	return wlo, whi
}

// refine walks to an amount that beats both integer neighbours. Strict gains
// are always taken; equal profit moves down, at most refineSteps times, so
// ties go to the smaller size.
func (s *Solver) refine(p Problem, dir domain.Direction, cur *candidate) (*candidate, error) {
	one := uint256.NewInt(1)
	ties := 0
	for i := 0; i < maxRefineIterations; i++ {
		if cur.amount.Gt(one) {
			down, err := s.evaluate(p, dir, new(uint256.Int).SubUint64(cur.amount, 1))
			if err != nil {
				return nil, err
			}
			if down != nil {
				c := down.profit.Cmp(cur.profit)
				if c > 0 || (c == 0 && ties < s.refineSteps) {
					if c == 0 {
						ties++
					}
					cur = down
					continue
				}
			}
		}
		if cur.amount.Lt(p.MaxInput) {
			up, err := s.evaluate(p, dir, new(uint256.Int).AddUint64(cur.amount, 1))
			if err != nil {
				return nil, err
			}
			if up != nil && up.profit.Cmp(cur.profit) > 0 {
				cur = up
				continue
			}
		}
		break
	}
	return cur, nil
}

// evaluate quotes both legs for amount. A nil candidate with nil error means
// a venue ran out of liquidity, which the search treats as minus infinity.
func (s *Solver) evaluate(p Problem, dir domain.Direction, amount *uint256.Int) (*candidate, error) {
	leg1, err := curve.Quote(p.Source, amount, dir)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientLiquidity) {
			return nil, nil
		}
		return nil, fmt.Errorf("arbitrage: quote source: %w", err)
	}
	destDir := domain.Configuration{Reverse: p.Reverse}.DestinationDirection(dir)
	leg2, err := curve.Quote(p.Destination, leg1.Quote.AmountOut, destDir)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientLiquidity) {
			return nil, nil
		}
		return nil, fmt.Errorf("arbitrage: quote destination: %w", err)
	}
	premium, err := Premium(amount, p.PremiumBps)
	if err != nil {
		return nil, err
	}

	profit := leg2.Quote.AmountOut.ToBig()
	profit.Sub(profit, amount.ToBig())
	profit.Sub(profit, premium.ToBig())

	return &candidate{
		dir:     dir,
		amount:  amount.Clone(),
		profit:  profit,
		premium: premium,
		leg1:    leg1.Quote,
		leg2:    leg2.Quote,
	}, nil
}

// Premium is the flash venue charge on amount, rounded up.
func Premium(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	return fixedpoint.BpsOfRoundingUp(amount, bps)
}

// Profit evaluates the net profit of trading amount in dir. ok is false when
// either venue cannot absorb the trade.
func (s *Solver) Profit(p Problem, dir domain.Direction, amount *uint256.Int) (profit *big.Int, ok bool, err error) {
	c, err := s.evaluate(p, dir, amount)
	if err != nil || c == nil {
		return nil, false, err
	}
	return c.profit, true, nil
}

func (s *Solver) result(p Problem, c *candidate) domain.ArbitrageResult {
	asset0, asset1 := p.Source.Assets()
	res := domain.ArbitrageResult{
		SwapAmount:     c.amount,
		Direction:      c.dir,
		BalanceChange0: new(big.Int),
		BalanceChange1: new(big.Int),
		VenueA:         p.Source.Venue(),
		VenueB:         p.Destination.Venue(),
		FlashVenue:     p.FlashVenue,
		Asset0:         asset0,
		Asset1:         asset1,
		Premium:        c.premium,
		Leg1:           c.leg1,
		Leg2:           c.leg2,
	}
	if c.dir == domain.ZeroForOne {
		res.BalanceChange0.Set(c.profit)
	} else {
		res.BalanceChange1.Set(c.profit)
	}
	return res
}

// better compares candidates from different directions by valuing both
// profits in asset0 at each leg-1 execution price. Ties keep the smaller size.
func better(a, b *candidate) bool {
	av, bv := valueInAsset0(a), valueInAsset0(b)
	if c := av.Cmp(bv); c != 0 {
		return c > 0
	}
	return a.amount.Lt(b.amount)
}

func valueInAsset0(c *candidate) *big.Int {
	if c.dir == domain.ZeroForOne || c.leg1.AmountIn.IsZero() {
		return c.profit
	}
	// leg1 sold asset1 for asset0
	v := new(big.Int).Mul(c.profit, c.leg1.AmountOut.ToBig())
	return v.Quo(v, c.leg1.AmountIn.ToBig())
}
