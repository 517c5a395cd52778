package fixedpoint

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// SwapStep is the result of trading within a single liquidity segment.
type SwapStep struct {
	SqrtNextX96 *uint256.Int
	AmountIn    *uint256.Int
	AmountOut   *uint256.Int
	FeeAmount   *uint256.Int
}

// ComputeSwapStep trades an exact input against constant liquidity, moving
// price from sqrtCurrent toward sqrtTarget but not past it. The fee is taken
// from the input at feeBps.
func ComputeSwapStep(sqrtCurrent, sqrtTarget, liquidity, amountRemaining *uint256.Int, feeBps uint32) (SwapStep, error) {
	zeroForOne := !sqrtCurrent.Lt(sqrtTarget)
	feeComplement := uint256.NewInt(uint64(domain.MaxFeeBps - feeBps))
	denom := uint256.NewInt(domain.MaxFeeBps)

	remainingLessFee, err := MulDiv(amountRemaining, feeComplement, denom)
	if err != nil {
		return SwapStep{}, err
	}

	var amountIn *uint256.Int
	if zeroForOne {
		amountIn, err = Amount0Delta(sqrtTarget, sqrtCurrent, liquidity, true)
	} else {
		amountIn, err = Amount1Delta(sqrtCurrent, sqrtTarget, liquidity, true)
	}
	if err != nil {
		return SwapStep{}, err
	}

	var sqrtNext *uint256.Int
	if !remainingLessFee.Lt(amountIn) {
		sqrtNext = sqrtTarget.Clone()
	} else {
		sqrtNext, err = NextSqrtPriceFromInput(sqrtCurrent, liquidity, remainingLessFee, zeroForOne)
		if err != nil {
			return SwapStep{}, err
		}
	}
	reachedTarget := sqrtNext.Eq(sqrtTarget)

	var amountOut *uint256.Int
	if zeroForOne {
		if !reachedTarget {
			if amountIn, err = Amount0Delta(sqrtNext, sqrtCurrent, liquidity, true); err != nil {
				return SwapStep{}, err
			}
		}
		amountOut, err = Amount1Delta(sqrtNext, sqrtCurrent, liquidity, false)
	} else {
		if !reachedTarget {
			if amountIn, err = Amount1Delta(sqrtCurrent, sqrtNext, liquidity, true); err != nil {
				return SwapStep{}, err
			}
		}
		amountOut, err = Amount0Delta(sqrtCurrent, sqrtNext, liquidity, false)
	}
	if err != nil {
		return SwapStep{}, err
	}

	var fee *uint256.Int
	if !reachedTarget {
		// the whole remainder is consumed; whatever did not move price is fee
		if fee, err = SubChecked(amountRemaining, amountIn); err != nil {
			return SwapStep{}, err
		}
	} else if fee, err = MulDivRoundingUp(amountIn, uint256.NewInt(uint64(feeBps)), feeComplement); err != nil {
		return SwapStep{}, err
	}

	return SwapStep{
		SqrtNextX96: sqrtNext,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		FeeAmount:   fee,
	}, nil
}
