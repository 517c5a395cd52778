package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func u(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

func TestMulDiv(t *testing.T) {
	max := new(uint256.Int).SetAllOne()

	tests := []struct {
		name    string
		a, b, d *uint256.Int
		want    *uint256.Int
		wantErr error
	}{
		{"simple", u("10"), u("3"), u("4"), u("7"), nil},
		{"floor", u("7"), u("1"), u("2"), u("3"), nil},
		{"wide intermediate", max, max, max, max, nil},
		{"wide then shrink", max, u("2"), u("4"), new(uint256.Int).Rsh(max, 1), nil},
		{"result overflow", max, u("2"), u("1"), nil, domain.ErrArithmeticOverflow},
		{"zero denominator", u("1"), u("1"), u("0"), nil, domain.ErrArithmeticOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.d)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Dec(), got.Dec())
		})
	}
}

func TestMulDivRoundingUp(t *testing.T) {
	got, err := MulDivRoundingUp(u("7"), u("1"), u("2"))
	require.NoError(t, err)
	assert.Equal(t, "4", got.Dec())

	got, err = MulDivRoundingUp(u("8"), u("1"), u("2"))
	require.NoError(t, err)
	assert.Equal(t, "4", got.Dec())

	max := new(uint256.Int).SetAllOne()
	_, err = MulDivRoundingUp(max, max, new(uint256.Int).SubUint64(max, 1))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestCheckedArithmetic(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := AddChecked(max, u("1"))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	_, err = SubChecked(u("1"), u("2"))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	_, err = MulChecked(max, u("2"))
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	v, err := DivRoundingUp(u("10"), u("3"))
	require.NoError(t, err)
	assert.Equal(t, "4", v.Dec())
	assert.Equal(t, "3", Sqrt(u("15")).Dec())
}

func TestSqrtRatioAtTickBounds(t *testing.T) {
	got, err := SqrtRatioAtTick(0)
	require.NoError(t, err)
	assert.Equal(t, Q96.Dec(), got.Dec())

	got, err = SqrtRatioAtTick(MinTick)
	require.NoError(t, err)
	assert.Equal(t, MinSqrtRatio.Dec(), got.Dec())

	got, err = SqrtRatioAtTick(MaxTick)
	require.NoError(t, err)
	assert.Equal(t, MaxSqrtRatio.Dec(), got.Dec())

	_, err = SqrtRatioAtTick(MaxTick + 1)
	assert.ErrorIs(t, err, ErrTickOutOfRange)
	_, err = SqrtRatioAtTick(MinTick - 1)
	assert.ErrorIs(t, err, ErrTickOutOfRange)
}

func TestSqrtRatioAtTickMonotonicAndInvertible(t *testing.T) {
	ticks := []int32{MinTick, -500000, -74959, -60, -1, 0, 1, 60, 74959, 500000, MaxTick - 1}
	var prev *uint256.Int
	for _, tick := range ticks {
		ratio, err := SqrtRatioAtTick(tick)
		require.NoError(t, err)
		if prev != nil {
			assert.True(t, ratio.Gt(prev), "tick %d not above previous", tick)
		}
		prev = ratio

		back, err := TickAtSqrtRatio(ratio)
		require.NoError(t, err)
		assert.Equal(t, tick, back)

		// one unit above a boundary still maps to the same tick
		back, err = TickAtSqrtRatio(new(uint256.Int).AddUint64(ratio, 1))
		require.NoError(t, err)
		assert.Equal(t, tick, back)
	}
}

func TestTickAtSqrtRatioRange(t *testing.T) {
	_, err := TickAtSqrtRatio(new(uint256.Int).SubUint64(MinSqrtRatio, 1))
	assert.ErrorIs(t, err, ErrPriceOutOfRange)
	_, err = TickAtSqrtRatio(MaxSqrtRatio)
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	tick, err := TickAtSqrtRatio(new(uint256.Int).SubUint64(MaxSqrtRatio, 1))
	require.NoError(t, err)
	assert.Equal(t, MaxTick-1, tick)
}

func TestAmountDeltas(t *testing.T) {
	liquidity := u("1000000000000000000")
	sqrtA := Q96.Clone()
	sqrtB := new(uint256.Int).Lsh(Q96, 1) // price 4

	// L*(1/sqrtA - 1/sqrtB) = 1e18 * (1 - 1/2)
	a0, err := Amount0Delta(sqrtA, sqrtB, liquidity, false)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", a0.Dec())

	// L*(sqrtB - sqrtA) = 1e18 * (2 - 1)
	a1, err := Amount1Delta(sqrtB, sqrtA, liquidity, true)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", a1.Dec())
}

func TestNextSqrtPriceFromInput(t *testing.T) {
	liquidity := u("1000000000000000000")

	// adding L of asset1 at price 1 doubles sqrt price
	next, err := NextSqrtPriceFromInput(Q96, liquidity, liquidity, false)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Lsh(Q96, 1).Dec(), next.Dec())

	// adding L of asset0 at price 1 halves sqrt price
	next, err = NextSqrtPriceFromInput(Q96, liquidity, liquidity, true)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Rsh(Q96, 1).Dec(), next.Dec())

	_, err = NextSqrtPriceFromInput(Q96, new(uint256.Int), liquidity, true)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestComputeSwapStep(t *testing.T) {
	liquidity := u("2000000000000000000")
	target := new(uint256.Int).Rsh(Q96, 1)

	t.Run("stops inside segment", func(t *testing.T) {
		step, err := ComputeSwapStep(Q96, target, liquidity, u("1000000"), 30)
		require.NoError(t, err)
		assert.True(t, step.SqrtNextX96.Lt(Q96))
		assert.True(t, step.SqrtNextX96.Gt(target))
		total := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
		assert.Equal(t, "1000000", total.Dec(), "exact input is fully consumed")
		assert.False(t, step.AmountOut.IsZero())
		assert.True(t, step.AmountOut.Lt(u("1000000")))
	})

	t.Run("reaches target", func(t *testing.T) {
		step, err := ComputeSwapStep(Q96, target, liquidity, u("100000000000000000000"), 30)
		require.NoError(t, err)
		assert.Equal(t, target.Dec(), step.SqrtNextX96.Dec())
		// L*(1/sqrt(1/4) - 1) = L
		assert.Equal(t, liquidity.Dec(), step.AmountIn.Dec())
		total := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
		assert.True(t, total.Lt(u("100000000000000000000")))
	})

	t.Run("zero liquidity moves price for free", func(t *testing.T) {
		step, err := ComputeSwapStep(Q96, target, new(uint256.Int), u("1000"), 30)
		require.NoError(t, err)
		assert.Equal(t, target.Dec(), step.SqrtNextX96.Dec())
		assert.True(t, step.AmountIn.IsZero())
		assert.True(t, step.AmountOut.IsZero())
	})
}
