package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func settlement(i int) domain.Settlement {
	return domain.Settlement{ID: fmt.Sprintf("s-%d", i), SettledAt: t0.Add(time.Duration(i) * time.Minute)}
}

func ids(rows []domain.Settlement) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestSettlementStore(t *testing.T) {
	ctx := context.Background()
	st := NewSettlementStore(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.Create(ctx, settlement(i)))
	}

	err := st.Create(ctx, settlement(2))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := st.GetByID(ctx, "s-3")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Minute), got.SettledAt)

	_, err = st.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	recent, err := st.ListRecent(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-3", "s-2"}, ids(recent))

	since, until := t0.Add(time.Minute), t0.Add(3*time.Minute)
	window, err := st.ListRecent(ctx, domain.ListOpts{Since: &since, Until: &until})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-3", "s-2", "s-1"}, ids(window))

	old, err := st.ListBefore(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"s-0", "s-1"}, ids(old))

	n, err := st.DeleteBefore(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	all, _ := st.ListRecent(ctx, domain.ListOpts{})
	assert.Equal(t, []string{"s-4", "s-3", "s-2"}, ids(all))
}

func TestStoresAreBounded(t *testing.T) {
	ctx := context.Background()
	st := NewSettlementStore(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.Create(ctx, settlement(i)))
	}
	all, _ := st.ListRecent(ctx, domain.ListOpts{})
	assert.Equal(t, []string{"s-4", "s-3", "s-2"}, ids(all))

	at := NewAttemptStore(2)
	for i := 0; i < 3; i++ {
		require.NoError(t, at.Record(ctx, domain.Attempt{ID: fmt.Sprint(i), CreatedAt: t0.Add(time.Duration(i) * time.Second)}))
	}
	attempts, _ := at.ListRecent(ctx, domain.ListOpts{})
	require.Len(t, attempts, 2)
	assert.Equal(t, "2", attempts[0].ID)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	st := NewAuditStore(10)
	st.now = func() time.Time { return t0 }

	require.NoError(t, st.Log(ctx, "configure", map[string]any{"caller": "0x1"}))
	require.NoError(t, st.Log(ctx, "retrieve", nil))

	entries, err := st.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "retrieve", entries[0].Event)
	assert.EqualValues(t, 2, entries[0].ID)
	assert.Equal(t, t0, entries[1].CreatedAt)
}

func TestReplayGuard(t *testing.T) {
	ctx := context.Background()
	g := NewReplayGuard()
	now := t0
	g.now = func() time.Time { return now }

	ok, err := g.Claim(ctx, "sig-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Claim(ctx, "sig-1", time.Minute)
	assert.False(t, ok, "second claim within ttl")
	ok, _ = g.Claim(ctx, "sig-2", time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = g.Claim(ctx, "sig-1", time.Minute)
	assert.True(t, ok, "claim after expiry")
	assert.Len(t, g.seen, 1)
}
