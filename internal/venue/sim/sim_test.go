package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/venue/fixture"
)

var (
	assetA = common.HexToAddress("0xa0")
	assetB = common.HexToAddress("0xb1")
)

func u(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

func newPool() *Pool {
	return NewPool(fixture.ConstantProduct(
		domain.VenueMeta{ID: "cp", Asset0: assetA, Asset1: assetB, FeeBps: 30},
		u("2000000000000000000000"), u("1000000000000000000"),
	))
}

func reserves(t *testing.T, p *Pool) (string, string) {
	t.Helper()
	st, err := p.State(context.Background())
	require.NoError(t, err)
	cp := st.(*domain.ConstantProductState)
	return cp.Reserve0.Dec(), cp.Reserve1.Dec()
}

func TestPoolSwapAndRevert(t *testing.T) {
	ctx := context.Background()
	p := newPool()
	assert.Equal(t, domain.VenueID("cp"), p.ID())

	cp, err := p.Checkpoint(ctx)
	require.NoError(t, err)

	out, err := p.Swap(ctx, u("1000000000000000"), domain.OneForZero)
	require.NoError(t, err)
	assert.False(t, out.IsZero())
	r0, r1 := reserves(t, p)
	assert.NotEqual(t, "2000000000000000000000", r0)
	assert.Equal(t, "1001000000000000000", r1)

	require.NoError(t, p.Revert(ctx, cp))
	r0, r1 = reserves(t, p)
	assert.Equal(t, "2000000000000000000000", r0)
	assert.Equal(t, "1000000000000000000", r1)

	assert.Error(t, p.Revert(ctx, cp), "checkpoint is consumed")
}

func TestPoolNestedCheckpoints(t *testing.T) {
	ctx := context.Background()
	p := newPool()

	outer, err := p.Checkpoint(ctx)
	require.NoError(t, err)
	_, err = p.Swap(ctx, u("1000"), domain.ZeroForOne)
	require.NoError(t, err)
	inner, err := p.Checkpoint(ctx)
	require.NoError(t, err)
	_, err = p.Swap(ctx, u("1000"), domain.ZeroForOne)
	require.NoError(t, err)

	require.NoError(t, p.Release(ctx, inner))
	require.NoError(t, p.Revert(ctx, outer))
	r0, _ := reserves(t, p)
	assert.Equal(t, "2000000000000000000000", r0)
	assert.Equal(t, 0, p.journal.depth())
}

func TestPoolStateIsCopy(t *testing.T) {
	p := newPool()
	st, err := p.State(context.Background())
	require.NoError(t, err)
	st.(*domain.ConstantProductState).Reserve0.SetUint64(1)
	r0, _ := reserves(t, p)
	assert.Equal(t, "2000000000000000000000", r0)
}

func TestPoolBeforeSwapHook(t *testing.T) {
	p := newPool()
	boom := errors.New("boom")
	p.BeforeSwap = func(*Pool) error { return boom }
	_, err := p.Swap(context.Background(), u("1"), domain.ZeroForOne)
	assert.ErrorIs(t, err, boom)
}

func TestLenderLoanLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewLender("flash", 1, map[common.Address]*uint256.Int{assetB: u("1000000")})
	assert.Equal(t, uint32(1), l.FeeBps())

	got, err := l.Borrow(ctx, assetB, u("500000"))
	require.NoError(t, err)
	assert.Equal(t, "500000", got.Dec())
	assert.Equal(t, "500000", l.Balance(assetB).Dec())
	assert.Equal(t, "500050", l.Outstanding()[assetB].Dec())

	_, err = l.Borrow(ctx, assetB, u("1"))
	assert.ErrorIs(t, err, domain.ErrLoanUnavailable, "one open loan per asset")

	err = l.Repay(ctx, assetB, u("500049"))
	assert.ErrorIs(t, err, domain.ErrRepaymentShortfall)

	require.NoError(t, l.Repay(ctx, assetB, u("500050")))
	assert.Equal(t, "1000050", l.Balance(assetB).Dec())
	assert.Empty(t, l.Outstanding())

	assert.Error(t, l.Repay(ctx, assetB, u("1")))
}

func TestLenderUnavailable(t *testing.T) {
	l := NewLender("flash", 1, map[common.Address]*uint256.Int{assetB: u("10")})
	_, err := l.Borrow(context.Background(), assetB, u("11"))
	assert.ErrorIs(t, err, domain.ErrLoanUnavailable)
	_, err = l.Borrow(context.Background(), assetA, u("1"))
	assert.ErrorIs(t, err, domain.ErrLoanUnavailable)
}

func TestLenderRevert(t *testing.T) {
	ctx := context.Background()
	l := NewLender("flash", 5, map[common.Address]*uint256.Int{assetA: u("100")})
	cp, err := l.Checkpoint(ctx)
	require.NoError(t, err)
	_, err = l.Borrow(ctx, assetA, u("40"))
	require.NoError(t, err)

	require.NoError(t, l.Revert(ctx, cp))
	assert.Equal(t, "100", l.Balance(assetA).Dec())
	assert.Empty(t, l.Outstanding())
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	dest := common.HexToAddress("0xd0")
	require.NoError(t, l.Transfer(context.Background(), assetA, u("5"), dest))
	require.NoError(t, l.Transfer(context.Background(), assetA, u("7"), dest))
	assert.Equal(t, "12", l.Received(dest, assetA).Dec())
	assert.Equal(t, "0", l.Received(dest, assetB).Dec())
}
