package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// NextSqrtPriceFromInput returns the price after adding amountIn of the
// input asset. The result is rounded so the pool never gives away more than
// it should.
func NextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPX96.IsZero() || liquidity.IsZero() {
		return nil, fmt.Errorf("fixedpoint: next sqrt price with zero price or liquidity: %w", domain.ErrInsufficientLiquidity)
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn)
	}
	return nextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn)
}

// L*sqrtP / (L + amount*sqrtP), rounded up.
func nextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return sqrtPX96.Clone(), nil
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, Resolution)

	if product, overflow := new(uint256.Int).MulOverflow(amount, sqrtPX96); !overflow {
		if denominator, overflow := new(uint256.Int).AddOverflow(numerator1, product); !overflow {
			return MulDivRoundingUp(numerator1, sqrtPX96, denominator)
		}
	}
	denominator, err := AddChecked(new(uint256.Int).Div(numerator1, sqrtPX96), amount)
	if err != nil {
		return nil, err
	}
	return DivRoundingUp(numerator1, denominator)
}

// sqrtP + amount/L, rounded down.
func nextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *uint256.Int) (*uint256.Int, error) {
	var quotient *uint256.Int
	if !amount.Gt(MaxUint160) {
		quotient = new(uint256.Int).Lsh(amount, Resolution)
		quotient.Div(quotient, liquidity)
	} else {
		var err error
		if quotient, err = MulDiv(amount, Q96, liquidity); err != nil {
			return nil, err
		}
	}
	next, err := AddChecked(sqrtPX96, quotient)
	if err != nil {
		return nil, err
	}
	if next.Gt(MaxUint160) {
		return nil, fmt.Errorf("fixedpoint: sqrt price exceeds 160 bits: %w", domain.ErrArithmeticOverflow)
	}
	return next, nil
}

// Amount0Delta is the asset0 amount between two prices for the given
// liquidity: L * (sqrtB - sqrtA) / (sqrtA * sqrtB).
func Amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.IsZero() {
		return nil, fmt.Errorf("fixedpoint: amount0 delta at zero price: %w", domain.ErrArithmeticOverflow)
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, Resolution)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		v, err := MulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return DivRoundingUp(v, sqrtA)
	}
	v, err := MulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return v.Div(v, sqrtA), nil
}

// Amount1Delta is the asset1 amount between two prices for the given
// liquidity: L * (sqrtB - sqrtA).
func Amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}
