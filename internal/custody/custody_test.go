package custody

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/settings"
	"github.com/alanyoungcy/flasharb/internal/venue/sim"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	dest     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	assetA   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	assetB   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type failingPayout struct{}

func (failingPayout) Transfer(context.Context, common.Address, *uint256.Int, common.Address) error {
	return errors.New("transfer reverted")
}

func newVault(t *testing.T, payout domain.Payout) *Vault {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewVault(settings.NewManager(operator, logger), payout, logger)
}

func TestRetrieve(t *testing.T) {
	ledger := sim.NewLedger()
	v := newVault(t, ledger)
	require.NoError(t, v.Deposit(assetA, uint256.NewInt(100)))
	ctx := context.Background()

	require.NoError(t, v.Retrieve(ctx, operator, assetA, uint256.NewInt(40), dest))
	assert.Equal(t, uint64(60), v.Balance(assetA).Uint64())
	assert.Equal(t, uint64(40), ledger.Received(dest, assetA).Uint64())

	require.NoError(t, v.Retrieve(ctx, operator, assetA, uint256.NewInt(60), dest))
	assert.True(t, v.Balance(assetA).IsZero())
	assert.Empty(t, v.Balances())
}

func TestRetrieveFailuresLeaveBalance(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		payout  domain.Payout
		caller  common.Address
		asset   common.Address
		amount  uint64
		wantErr error
	}{
		{"stranger", sim.NewLedger(), stranger, assetA, 1, domain.ErrUnauthorized},
		{"over balance", sim.NewLedger(), operator, assetA, 101, domain.ErrInsufficientBalance},
		{"asset never held", sim.NewLedger(), operator, assetB, 1, domain.ErrInsufficientBalance},
		{"payout fails", failingPayout{}, operator, assetA, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVault(t, tt.payout)
			require.NoError(t, v.Deposit(assetA, uint256.NewInt(100)))

			err := v.Retrieve(ctx, tt.caller, tt.asset, uint256.NewInt(tt.amount), dest)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, uint64(100), v.Balance(assetA).Uint64())
			assert.True(t, v.Balance(assetB).IsZero())
		})
	}
}

func TestStagedCommit(t *testing.T) {
	v := newVault(t, sim.NewLedger())
	require.NoError(t, v.Deposit(assetA, uint256.NewInt(5)))

	s := v.Stage()
	require.NoError(t, s.Credit(assetA, uint256.NewInt(1000)))
	require.NoError(t, s.Debit(assetA, uint256.NewInt(990)))
	assert.Equal(t, uint64(10), s.Available(assetA).Uint64())
	assert.Equal(t, uint64(5), v.Balance(assetA).Uint64(), "vault untouched before commit")

	require.NoError(t, s.Commit())
	assert.Equal(t, uint64(15), v.Balance(assetA).Uint64())
	assert.Error(t, s.Commit())
	assert.Error(t, s.Credit(assetA, uint256.NewInt(1)))
}

func TestStagedDebitCannotSpendVault(t *testing.T) {
	v := newVault(t, sim.NewLedger())
	require.NoError(t, v.Deposit(assetA, uint256.NewInt(1_000_000)))

	s := v.Stage()
	require.NoError(t, s.Credit(assetA, uint256.NewInt(10)))
	err := s.Debit(assetA, uint256.NewInt(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, uint64(10), s.Available(assetA).Uint64())
}

func TestStagedDiscard(t *testing.T) {
	v := newVault(t, sim.NewLedger())
	s := v.Stage()
	require.NoError(t, s.Credit(assetB, uint256.NewInt(7)))
	s.Discard()

	assert.True(t, v.Balance(assetB).IsZero())
	assert.Error(t, s.Commit())
}

func TestBalancesSorted(t *testing.T) {
	v := newVault(t, sim.NewLedger())
	require.NoError(t, v.Deposit(assetB, uint256.NewInt(2)))
	require.NoError(t, v.Deposit(assetA, uint256.NewInt(1)))

	got := v.Balances()
	require.Len(t, got, 2)
	assert.Equal(t, assetA, got[0].Asset)
	assert.Equal(t, assetB, got[1].Asset)
}
