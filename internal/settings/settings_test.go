package settings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	operator = common.HexToAddress("0x0000000000000000000000000000000000000001")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context) (domain.Configuration, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Configuration), args.Error(1)
}

func (m *mockStore) Save(ctx context.Context, cfg domain.Configuration) error {
	return m.Called(ctx, cfg).Error(0)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewManagerStartsEmpty(t *testing.T) {
	m := NewManager(operator, discard())
	cfg := m.Snapshot()
	assert.False(t, cfg.Ready())
	assert.Equal(t, operator, cfg.Operator)
	assert.True(t, cfg.MinProfit0.IsZero())
	assert.True(t, cfg.MinProfit1.IsZero())
}

func TestConfigureByOperator(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewManager(operator, discard(), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	src, dst, flash := domain.VenueID("a"), domain.VenueID("b"), domain.VenueID("f")
	reverse := true
	require.NoError(t, m.Configure(ctx, operator, Update{
		SourceVenue:      &src,
		DestinationVenue: &dst,
		FlashVenue:       &flash,
		Reverse:          &reverse,
		MinProfit0:       uint256.NewInt(5),
		MinProfit1:       uint256.NewInt(7),
	}))

	cfg := m.Snapshot()
	assert.True(t, cfg.Ready())
	assert.Equal(t, "a:b:f", cfg.PairKey())
	assert.Equal(t, []domain.VenueID{"a", "b", "f"}, cfg.Venues())
	assert.True(t, cfg.Reverse)
	assert.Equal(t, "5", cfg.MinProfit0.Dec())
	assert.Equal(t, "7", cfg.MinProfit1.Dec())
	assert.Equal(t, fixed, cfg.UpdatedAt)

	// snapshots are copies
	cfg.MinProfit0.SetUint64(100)
	assert.Equal(t, "5", m.Snapshot().MinProfit0.Dec())

	require.NoError(t, m.SetReverse(ctx, operator, false))
	require.NoError(t, m.SetMinProfits(ctx, operator, nil, uint256.NewInt(9)))
	cfg = m.Snapshot()
	assert.False(t, cfg.Reverse)
	assert.Equal(t, "5", cfg.MinProfit0.Dec(), "nil leaves field alone")
	assert.Equal(t, "9", cfg.MinProfit1.Dec())
}

func TestConfigureChecksSeeResult(t *testing.T) {
	store := new(mockStore)
	m := NewManager(operator, discard(), WithStore(store))
	ctx := context.Background()

	store.On("Save", ctx, mock.Anything).Return(nil).Once()
	require.NoError(t, m.SetSourceVenue(ctx, operator, "a"))

	var seen domain.Configuration
	distinct := func(next domain.Configuration) error {
		seen = next
		if next.SourceVenue == next.DestinationVenue {
			return domain.ErrInvalidConfig
		}
		return nil
	}

	dst := domain.VenueID("a")
	err := m.Configure(ctx, operator, Update{DestinationVenue: &dst}, distinct)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, domain.VenueID("a"), seen.SourceVenue, "check sees earlier writes")
	assert.Equal(t, domain.VenueID("a"), seen.DestinationVenue)
	assert.Equal(t, domain.VenueID(""), m.Snapshot().DestinationVenue)
	store.AssertNumberOfCalls(t, "Save", 1)

	store.On("Save", ctx, mock.Anything).Return(nil).Once()
	dst = "b"
	require.NoError(t, m.Configure(ctx, operator, Update{DestinationVenue: &dst}, distinct))
	assert.Equal(t, domain.VenueID("b"), m.Snapshot().DestinationVenue)
}

func TestSettersRejectStrangers(t *testing.T) {
	m := NewManager(operator, discard())
	ctx := context.Background()
	before := m.Snapshot()

	calls := map[string]func() error{
		"source":      func() error { return m.SetSourceVenue(ctx, stranger, "x") },
		"destination": func() error { return m.SetDestinationVenue(ctx, stranger, "x") },
		"flash":       func() error { return m.SetFlashVenue(ctx, stranger, "x") },
		"reverse":     func() error { return m.SetReverse(ctx, stranger, true) },
		"min profits": func() error { return m.SetMinProfits(ctx, stranger, uint256.NewInt(1), uint256.NewInt(1)) },
		"operator":    func() error { return m.TransferOperator(ctx, stranger, stranger) },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), domain.ErrUnauthorized)
		})
	}
	assert.Equal(t, before, m.Snapshot())
	assert.ErrorIs(t, m.Authorize(stranger), domain.ErrUnauthorized)
	assert.NoError(t, m.Authorize(operator))
}

func TestZeroOperatorAuthorizesNobody(t *testing.T) {
	m := NewManager(common.Address{}, discard())
	assert.ErrorIs(t, m.Authorize(common.Address{}), domain.ErrUnauthorized)
	assert.ErrorIs(t, m.SetReverse(context.Background(), common.Address{}, true), domain.ErrUnauthorized)
}

func TestTransferOperator(t *testing.T) {
	m := NewManager(operator, discard())
	ctx := context.Background()

	assert.ErrorIs(t, m.TransferOperator(ctx, operator, common.Address{}), domain.ErrUnauthorized)
	require.NoError(t, m.TransferOperator(ctx, operator, stranger))
	assert.Equal(t, stranger, m.Operator())
	assert.ErrorIs(t, m.SetReverse(ctx, operator, true), domain.ErrUnauthorized)
	assert.NoError(t, m.SetReverse(ctx, stranger, true))
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("saves accepted changes", func(t *testing.T) {
		store := new(mockStore)
		store.On("Save", ctx, mock.MatchedBy(func(c domain.Configuration) bool {
			return c.SourceVenue == "a"
		})).Return(nil).Once()

		m := NewManager(operator, discard(), WithStore(store))
		require.NoError(t, m.SetSourceVenue(ctx, operator, "a"))
		store.AssertExpectations(t)
	})

	t.Run("failed save leaves state unchanged", func(t *testing.T) {
		store := new(mockStore)
		store.On("Save", ctx, mock.Anything).Return(errors.New("db down")).Once()

		m := NewManager(operator, discard(), WithStore(store))
		err := m.SetSourceVenue(ctx, operator, "a")
		require.Error(t, err)
		assert.Equal(t, domain.VenueID(""), m.Snapshot().SourceVenue)
	})

	t.Run("restore", func(t *testing.T) {
		store := new(mockStore)
		store.On("Load", ctx).Return(domain.Configuration{SourceVenue: "s", Operator: stranger}, nil).Once()

		m := NewManager(operator, discard(), WithStore(store))
		require.NoError(t, m.Restore(ctx))
		cfg := m.Snapshot()
		assert.Equal(t, domain.VenueID("s"), cfg.SourceVenue)
		assert.Equal(t, stranger, cfg.Operator)
		assert.NotNil(t, cfg.MinProfit0)
	})

	t.Run("restore with nothing stored", func(t *testing.T) {
		store := new(mockStore)
		store.On("Load", ctx).Return(domain.Configuration{}, domain.ErrNotFound).Once()

		m := NewManager(operator, discard(), WithStore(store))
		require.NoError(t, m.Restore(ctx))
		assert.Equal(t, operator, m.Operator())
	})
}
