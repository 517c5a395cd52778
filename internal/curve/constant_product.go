package curve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/fixedpoint"
)

// ConstantProduct prices x*y=k pools with the fee taken from the input.
type ConstantProduct struct{}

// Quote returns floor(in*(1-fee)*reserveOut / (reserveIn + in*(1-fee))).
func (ConstantProduct) Quote(state domain.VenueState, amountIn *uint256.Int, dir domain.Direction) (Result, error) {
	s, ok := state.(*domain.ConstantProductState)
	if !ok {
		return Result{}, fmt.Errorf("curve: constant product got %T: %w", state, domain.ErrInvalidVenueState)
	}
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	if amountIn.IsZero() {
		return zeroQuote(s, dir), nil
	}

	reserveIn, reserveOut := s.Reserves(dir)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return Result{}, fmt.Errorf("curve: venue %s has empty reserves: %w", s.ID, domain.ErrInsufficientLiquidity)
	}

	feeComplement := uint256.NewInt(uint64(domain.MaxFeeBps - s.FeeBps))
	amountInWithFee, err := fixedpoint.MulChecked(amountIn, feeComplement)
	if err != nil {
		return Result{}, err
	}
	scaledReserveIn, err := fixedpoint.MulChecked(reserveIn, uint256.NewInt(domain.MaxFeeBps))
	if err != nil {
		return Result{}, err
	}
	denominator, err := fixedpoint.AddChecked(scaledReserveIn, amountInWithFee)
	if err != nil {
		return Result{}, err
	}
	amountOut, err := fixedpoint.MulDiv(amountInWithFee, reserveOut, denominator)
	if err != nil {
		return Result{}, err
	}
	fee, err := fixedpoint.BpsOfRoundingUp(amountIn, s.FeeBps)
	if err != nil {
		return Result{}, err
	}

	newIn, err := fixedpoint.AddChecked(reserveIn, amountIn)
	if err != nil {
		return Result{}, err
	}
	newOut := new(uint256.Int).Sub(reserveOut, amountOut)

	next := &domain.ConstantProductState{VenueMeta: s.VenueMeta}
	if dir == domain.ZeroForOne {
		next.Reserve0, next.Reserve1 = newIn, newOut
	} else {
		next.Reserve0, next.Reserve1 = newOut, newIn
	}

	return Result{
		Quote: domain.TradeQuote{
			Venue:     s.ID,
			Direction: dir,
			AmountIn:  amountIn.Clone(),
			AmountOut: amountOut,
			Fee:       fee,
		},
		Next: next,
	}, nil
}
