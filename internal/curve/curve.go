// Package curve prices swaps against venue state. Each venue kind has one
// PriceCurve; ForState is the only place that looks at the kind.
package curve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Result is a quote plus the venue state it would leave behind.
type Result struct {
	Quote domain.TradeQuote
	Next  domain.VenueState
}

// PriceCurve quotes an exact-input swap. Output is non-decreasing in input
// and never negative.
type PriceCurve interface {
	Quote(state domain.VenueState, amountIn *uint256.Int, dir domain.Direction) (Result, error)
}

// ForState returns the curve matching the state's variant.
func ForState(state domain.VenueState) (PriceCurve, error) {
	switch state.(type) {
	case *domain.ConstantProductState:
		return ConstantProduct{}, nil
	case *domain.ConcentratedState:
		return ConcentratedLiquidity{}, nil
	case nil:
		return nil, fmt.Errorf("curve: nil state: %w", domain.ErrInvalidVenueState)
	default:
		return nil, fmt.Errorf("curve: unsupported state %T: %w", state, domain.ErrInvalidVenueState)
	}
}

// Quote prices a swap against state with the matching curve.
func Quote(state domain.VenueState, amountIn *uint256.Int, dir domain.Direction) (Result, error) {
	c, err := ForState(state)
	if err != nil {
		return Result{}, err
	}
	return c.Quote(state, amountIn, dir)
}

func zeroQuote(state domain.VenueState, dir domain.Direction) Result {
	return Result{
		Quote: domain.TradeQuote{
			Venue:     state.Venue(),
			Direction: dir,
			AmountIn:  new(uint256.Int),
			AmountOut: new(uint256.Int),
			Fee:       new(uint256.Int),
		},
		Next: state.Clone(),
	}
}
