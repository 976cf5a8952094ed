package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for the memory store
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store   Store
	advance func(time.Duration)
}

func newMemoryFixture(t *testing.T) fixture {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	return fixture{
		store:   NewMemoryStoreWithClock(clock.Now),
		advance: clock.Advance,
	}
}

func newRedisFixture(t *testing.T) fixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return fixture{
		store:   NewRedisStore(client, time.Second, zerolog.Nop()),
		advance: mr.FastForward,
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, f fixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryFixture(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisFixture(t)) })
}

func TestStore_SetGet(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		_, ok, err := f.store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, f.store.Set(ctx, "k", "v1", time.Minute))
		value, ok, err := f.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", value)

		require.NoError(t, f.store.Set(ctx, "k", "v2", time.Minute))
		value, _, err = f.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", value)
	})
}

func TestStore_TTLExpiry(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		require.NoError(t, f.store.Set(ctx, "k", "v", 300*time.Second))

		f.advance(299 * time.Second)
		exists, err := f.store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, exists)

		f.advance(2 * time.Second)
		exists, err = f.store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, exists)

		_, ok, err := f.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_SetRefreshesTTL(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		require.NoError(t, f.store.Set(ctx, "k", "v", time.Minute))
		f.advance(50 * time.Second)
		require.NoError(t, f.store.Set(ctx, "k", "v", time.Minute))
		f.advance(50 * time.Second)

		exists, err := f.store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestStore_Del(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		require.NoError(t, f.store.Set(ctx, "k", "v", 0))
		require.NoError(t, f.store.Del(ctx, "k"))
		require.NoError(t, f.store.Del(ctx, "never-set"))

		exists, err := f.store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestStore_Sets(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()

		members, err := f.store.Members(ctx, "s")
		require.NoError(t, err)
		assert.Empty(t, members)

		require.NoError(t, f.store.AddToSet(ctx, "s", "a"))
		require.NoError(t, f.store.AddToSet(ctx, "s", "b"))
		require.NoError(t, f.store.AddToSet(ctx, "s", "a"))

		members, err = f.store.Members(ctx, "s")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, members)

		require.NoError(t, f.store.RemoveFromSet(ctx, "s", "a"))
		require.NoError(t, f.store.RemoveFromSet(ctx, "s", "not-a-member"))

		members, err = f.store.Members(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, members)
	})
}

func TestStore_SetsDoNotExpire(t *testing.T) {
	eachStore(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		require.NoError(t, f.store.Set(ctx, "record", "ONLINE", time.Minute))
		require.NoError(t, f.store.AddToSet(ctx, "s", "record"))

		f.advance(2 * time.Minute)

		members, err := f.store.Members(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, []string{"record"}, members, "set membership outlives the record TTL")

		exists, err := f.store.Exists(ctx, "record")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestRedisStore_UnavailableWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client, 200*time.Millisecond, zerolog.Nop())

	mr.Close()

	ctx := context.Background()
	err := store.Set(ctx, "k", "v", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, _, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.Members(ctx, "s")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.Exists(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, store.Ping(ctx), ErrUnavailable)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Set(ctx, "k", "v", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, _, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryStore_PurgesExpiredKeys(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", "v", time.Second))
	clock.Advance(time.Minute)
	for i := 0; i < purgeEvery; i++ {
		require.NoError(t, store.Set(ctx, "filler", "v", 0))
	}

	store.mu.RLock()
	_, stillThere := store.keys["short"]
	store.mu.RUnlock()
	assert.False(t, stillThere)
}
