package curve

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/fixedpoint"
)

// ConcentratedLiquidity prices tick-based pools. A quote walks initialized
// ticks in the swap direction, trading against the active liquidity of each
// segment and adjusting it by the tick's net liquidity on every crossing.
type ConcentratedLiquidity struct{}

var (
	minSqrtLimit = new(uint256.Int).AddUint64(fixedpoint.MinSqrtRatio, 1)
	maxSqrtLimit = new(uint256.Int).SubUint64(fixedpoint.MaxSqrtRatio, 1)
)

func (ConcentratedLiquidity) Quote(state domain.VenueState, amountIn *uint256.Int, dir domain.Direction) (Result, error) {
	s, ok := state.(*domain.ConcentratedState)
	if !ok {
		return Result{}, fmt.Errorf("curve: concentrated liquidity got %T: %w", state, domain.ErrInvalidVenueState)
	}
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	if s.SqrtPriceX96.Lt(fixedpoint.MinSqrtRatio) || !s.SqrtPriceX96.Lt(fixedpoint.MaxSqrtRatio) {
		return Result{}, fmt.Errorf("curve: venue %s sqrt price %s: %w", s.ID, s.SqrtPriceX96.Dec(), domain.ErrInvalidVenueState)
	}
	if amountIn.IsZero() {
		return zeroQuote(s, dir), nil
	}

	zeroForOne := dir == domain.ZeroForOne
	limit := maxSqrtLimit
	if zeroForOne {
		limit = minSqrtLimit
	}

	var (
		remaining = amountIn.Clone()
		amountOut = new(uint256.Int)
		feeTotal  = new(uint256.Int)
		sqrtPrice = s.SqrtPriceX96.Clone()
		tick      = s.Tick
		liquidity = s.Liquidity.Clone()
	)

	for !remaining.IsZero() && !sqrtPrice.Eq(limit) {
		next, initialized := s.NextInitializedTick(tick, dir)
		tickNext := next.Index
		if !initialized {
			tickNext = edgeTick(s, zeroForOne)
		}
		tickNext = clampTick(tickNext)

		sqrtNextTick, err := fixedpoint.SqrtRatioAtTick(tickNext)
		if err != nil {
			return Result{}, err
		}
		target := sqrtNextTick
		if (zeroForOne && sqrtNextTick.Lt(limit)) || (!zeroForOne && sqrtNextTick.Gt(limit)) {
			target = limit
		}

		start := sqrtPrice
		step, err := fixedpoint.ComputeSwapStep(sqrtPrice, target, liquidity, remaining, s.FeeBps)
		if err != nil {
			return Result{}, err
		}
		consumed := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
		if remaining, err = fixedpoint.SubChecked(remaining, consumed); err != nil {
			return Result{}, err
		}
		amountOut.Add(amountOut, step.AmountOut)
		feeTotal.Add(feeTotal, step.FeeAmount)
		sqrtPrice = step.SqrtNextX96

		switch {
		case sqrtPrice.Eq(sqrtNextTick) && initialized:
			if liquidity, err = crossTick(liquidity, next.LiquidityNet, zeroForOne); err != nil {
				return Result{}, fmt.Errorf("curve: venue %s cross tick %d: %w", s.ID, next.Index, err)
			}
			tick = tickNext
			if zeroForOne {
				tick = tickNext - 1
			}
		case !sqrtPrice.Eq(start):
			if tick, err = fixedpoint.TickAtSqrtRatio(sqrtPrice); err != nil {
				return Result{}, err
			}
		}

		// Past the scanned window the liquidity is unknown.
		if s.Window != nil && !initialized && sqrtPrice.Eq(sqrtNextTick) {
			break
		}
	}

	if !remaining.IsZero() {
		return Result{}, fmt.Errorf("curve: venue %s exhausted with %s input left: %w", s.ID, remaining.Dec(), domain.ErrInsufficientLiquidity)
	}

	next := s.Clone().(*domain.ConcentratedState)
	next.SqrtPriceX96 = sqrtPrice
	next.Tick = tick
	next.Liquidity = liquidity

	return Result{
		Quote: domain.TradeQuote{
			Venue:     s.ID,
			Direction: dir,
			AmountIn:  amountIn.Clone(),
			AmountOut: amountOut,
			Fee:       feeTotal,
		},
		Next: next,
	}, nil
}

// crossTick applies a tick's net liquidity. Moving down the price range
// removes what moving up would add.
func crossTick(liquidity *uint256.Int, net *big.Int, zeroForOne bool) (*uint256.Int, error) {
	delta := new(big.Int).Set(net)
	if zeroForOne {
		delta.Neg(delta)
	}
	updated := new(big.Int).Add(liquidity.ToBig(), delta)
	if updated.Sign() < 0 {
		return nil, fmt.Errorf("liquidity below zero: %w", domain.ErrInvalidVenueState)
	}
	out, overflow := uint256.FromBig(updated)
	if overflow || out.Gt(fixedpoint.MaxUint128) {
		return nil, fmt.Errorf("liquidity above 128 bits: %w", domain.ErrArithmeticOverflow)
	}
	return out, nil
}

// edgeTick is where the walk stops when no initialized tick is left in the
// swap direction: the end of the scanned window or of the tick range.
func edgeTick(s *domain.ConcentratedState, zeroForOne bool) int32 {
	if s.Window != nil {
		if zeroForOne {
			return s.Window.Lower
		}
		return s.Window.Upper
	}
	if zeroForOne {
		return fixedpoint.MinTick
	}
	return fixedpoint.MaxTick
}

func clampTick(t int32) int32 {
	if t < fixedpoint.MinTick {
		return fixedpoint.MinTick
	}
	if t > fixedpoint.MaxTick {
		return fixedpoint.MaxTick
	}
	return t
}
