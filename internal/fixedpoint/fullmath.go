// Package fixedpoint implements the integer arithmetic the pricing curves
// depend on: full-width multiply-divide, Q64.96 square-root prices and tick
// conversions. Nothing here touches floating point.
package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Resolution is the number of fractional bits in a Q64.96 value.
const Resolution = 96

var (
	// Q96 is 2^96, the fixed-point one.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), Resolution)
	// MaxUint128 bounds pool liquidity.
	MaxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	// MaxUint160 bounds sqrt prices.
	MaxUint160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))
)

// MulDiv returns floor(a*b/denominator). The product is computed at 512 bits
// so only a quotient that does not fit in 256 bits overflows.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, fmt.Errorf("fixedpoint: mul div by zero: %w", domain.ErrArithmeticOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, fmt.Errorf("fixedpoint: mul div %s*%s/%s: %w", a.Dec(), b.Dec(), denominator.Dec(), domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// MulDivRoundingUp returns ceil(a*b/denominator).
func MulDivRoundingUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		return z, nil
	}
	return AddChecked(z, uint256.NewInt(1))
}

// DivRoundingUp returns ceil(a/b).
func DivRoundingUp(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, fmt.Errorf("fixedpoint: div by zero: %w", domain.ErrArithmeticOverflow)
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(a, b, r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q, nil
}

// AddChecked returns a+b or ErrArithmeticOverflow.
func AddChecked(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("fixedpoint: add: %w", domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// SubChecked returns a-b or ErrArithmeticOverflow when b > a.
func SubChecked(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("fixedpoint: sub: %w", domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// MulChecked returns a*b or ErrArithmeticOverflow.
func MulChecked(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("fixedpoint: mul: %w", domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

// BpsOf returns floor(amount*bps/10000).
func BpsOf(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(domain.MaxFeeBps))
}

// BpsOfRoundingUp returns ceil(amount*bps/10000).
func BpsOfRoundingUp(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	return MulDivRoundingUp(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(domain.MaxFeeBps))
}
