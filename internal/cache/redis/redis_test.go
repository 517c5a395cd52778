package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	assert.Error(t, err)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "aqueduct:external", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("flasharb:lock:aqueduct:external"))

	_, err = lm.Acquire(ctx, "aqueduct:external", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// other pairs are independent
	unlockOther, err := lm.Acquire(ctx, "aqueduct:other", time.Minute)
	require.NoError(t, err)
	unlockOther()

	unlock()
	unlock()
	assert.False(t, mr.Exists("flasharb:lock:aqueduct:external"))

	unlock, err = lm.Acquire(ctx, "aqueduct:external", time.Minute)
	require.NoError(t, err)
	unlock()
}

func TestLockExpiredHolderCannotRelease(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "pair", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := lm.Acquire(ctx, "pair", time.Minute)
	require.NoError(t, err)
	defer fresh()

	stale()
	assert.True(t, mr.Exists("flasharb:lock:pair"), "stale unlock must not drop the new holder's lock")
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelSettlements)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelSettlements, []byte(`{"id":"s1"}`)))
	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"id":"s1"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, domain.StreamSettlements, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamSettlements, []byte(p)))
	}

	msgs, err = bus.StreamRead(ctx, domain.StreamSettlements, "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Payload))
	assert.Equal(t, "b", string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, domain.StreamSettlements, msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", string(msgs[0].Payload))
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "10.0.0.1", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "10.0.0.1", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "10.0.0.2", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "10.0.0.1", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWrap(t *testing.T) {
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
}

func TestReplayGuard(t *testing.T) {
	c, mr := newTestClient(t)
	g := NewReplayGuard(c)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "0xabc:0x01", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("flasharb:replay:0xabc:0x01"))

	// another instance sharing the server sees the claim
	ok, err = NewReplayGuard(c).Claim(ctx, "0xabc:0x01", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = g.Claim(ctx, "0xabc:0x01", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
