package keyval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatehouse/gatehouse/internal/clock"
	"github.com/gatehouse/gatehouse/internal/testutil"
)

// storeFixture wires a Store with a way to advance time, so the same suite
// runs against both backends.
type storeFixture struct {
	store   Store
	advance func(d time.Duration)
}

func memoryFixture(t *testing.T) storeFixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	m := NewMemory(clk)
	t.Cleanup(func() { _ = m.Close() })
	return storeFixture{store: m, advance: clk.Advance}
}

func redisFixture(t *testing.T) storeFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisFromClient(client)
	t.Cleanup(func() { _ = r.Close() })
	return storeFixture{store: r, advance: mr.FastForward}
}

func runBothBackends(t *testing.T, test func(t *testing.T, fx storeFixture)) {
	t.Run("memory", func(t *testing.T) { test(t, memoryFixture(t)) })
	t.Run("redis", func(t *testing.T) { test(t, redisFixture(t)) })
}

func TestGetSet(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		_, err := fx.store.Get(ctx, "missing")
		testutil.True(t, errors.Is(err, ErrNotFound), "missing key should be ErrNotFound")

		testutil.NoError(t, fx.store.Set(ctx, "k", "v1", 0))
		val, err := fx.store.Get(ctx, "k")
		testutil.NoError(t, err)
		testutil.Equal(t, "v1", val)

		testutil.NoError(t, fx.store.Set(ctx, "k", "v2", 0))
		val, err = fx.store.Get(ctx, "k")
		testutil.NoError(t, err)
		testutil.Equal(t, "v2", val)
	})
}

func TestExpiry(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		testutil.NoError(t, fx.store.Set(ctx, "k", "v", 5*time.Minute))

		fx.advance(4 * time.Minute)
		ok, err := fx.store.Exists(ctx, "k")
		testutil.NoError(t, err)
		testutil.True(t, ok, "key should survive before TTL")

		fx.advance(2 * time.Minute)
		_, err = fx.store.Get(ctx, "k")
		testutil.True(t, errors.Is(err, ErrNotFound), "expired key should be ErrNotFound")
	})
}

func TestSetIfAbsent(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		ok, err := fx.store.SetIfAbsent(ctx, "k", "first", time.Minute)
		testutil.NoError(t, err)
		testutil.True(t, ok, "first write should win")

		ok, err = fx.store.SetIfAbsent(ctx, "k", "second", time.Minute)
		testutil.NoError(t, err)
		testutil.False(t, ok, "second write should lose")

		val, err := fx.store.Get(ctx, "k")
		testutil.NoError(t, err)
		testutil.Equal(t, "first", val)

		// Expired keys count as absent.
		fx.advance(2 * time.Minute)
		ok, err = fx.store.SetIfAbsent(ctx, "k", "third", time.Minute)
		testutil.NoError(t, err)
		testutil.True(t, ok, "write after expiry should win")
	})
}

func TestIncr(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		n, err := fx.store.Incr(ctx, "c")
		testutil.NoError(t, err)
		testutil.Equal(t, int64(1), n)

		n, err = fx.store.Incr(ctx, "c")
		testutil.NoError(t, err)
		testutil.Equal(t, int64(2), n)

		// Plain Incr carries no expiry.
		_, err = fx.store.PTTL(ctx, "c")
		testutil.NoError(t, err)
	})
}

func TestIncrWindow(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		n, err := fx.store.IncrWindow(ctx, "w", 10*time.Minute)
		testutil.NoError(t, err)
		testutil.Equal(t, int64(1), n)

		// Later increments must not slide the window.
		fx.advance(6 * time.Minute)
		n, err = fx.store.IncrWindow(ctx, "w", 10*time.Minute)
		testutil.NoError(t, err)
		testutil.Equal(t, int64(2), n)

		fx.advance(5 * time.Minute)
		n, err = fx.store.IncrWindow(ctx, "w", 10*time.Minute)
		testutil.NoError(t, err)
		testutil.Equal(t, int64(1), n)
	})
}

func TestPTTL(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		_, err := fx.store.PTTL(ctx, "missing")
		testutil.True(t, errors.Is(err, ErrNotFound), "missing key should be ErrNotFound")

		testutil.NoError(t, fx.store.Set(ctx, "nottl", "v", 0))
		d, err := fx.store.PTTL(ctx, "nottl")
		testutil.NoError(t, err)
		testutil.Equal(t, time.Duration(0), d)

		testutil.NoError(t, fx.store.Set(ctx, "ttl", "v", 30*time.Second))
		d, err = fx.store.PTTL(ctx, "ttl")
		testutil.NoError(t, err)
		testutil.True(t, d > 0 && d <= 30*time.Second, "remaining TTL out of range: %v", d)
	})
}

func TestExpireResetsTTL(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		testutil.NoError(t, fx.store.Set(ctx, "k", "v", 10*time.Second))
		testutil.NoError(t, fx.store.Expire(ctx, "k", 10*time.Minute))

		fx.advance(5 * time.Minute)
		ok, err := fx.store.Exists(ctx, "k")
		testutil.NoError(t, err)
		testutil.True(t, ok, "key should survive under the extended TTL")
	})
}

func TestDel(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		testutil.NoError(t, fx.store.Set(ctx, "a", "1", 0))
		testutil.NoError(t, fx.store.Set(ctx, "b", "2", 0))
		testutil.NoError(t, fx.store.Del(ctx, "a", "b", "never-existed"))

		ok, err := fx.store.Exists(ctx, "a")
		testutil.NoError(t, err)
		testutil.False(t, ok)
	})
}

func TestDelIfEquals(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		ok, err := fx.store.DelIfEquals(ctx, "missing", "v")
		testutil.NoError(t, err)
		testutil.False(t, ok, "missing key should not report a delete")

		testutil.NoError(t, fx.store.Set(ctx, "k", "v", time.Minute))

		ok, err = fx.store.DelIfEquals(ctx, "k", "other")
		testutil.NoError(t, err)
		testutil.False(t, ok, "mismatched value must not delete")
		present, err := fx.store.Exists(ctx, "k")
		testutil.NoError(t, err)
		testutil.True(t, present, "key should survive a mismatched delete")

		ok, err = fx.store.DelIfEquals(ctx, "k", "v")
		testutil.NoError(t, err)
		testutil.True(t, ok, "matching value should delete")

		// The key is gone, so only one of two competing deletes can win.
		ok, err = fx.store.DelIfEquals(ctx, "k", "v")
		testutil.NoError(t, err)
		testutil.False(t, ok)
	})
}

func TestIncrNonIntegerValue(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		testutil.NoError(t, fx.store.Set(ctx, "k", "not-a-number", 0))
		_, err := fx.store.Incr(ctx, "k")
		testutil.True(t, errors.Is(err, ErrStoreUnavailable), "incr type error should wrap ErrStoreUnavailable, got %v", err)
	})
}

func TestPubSub(t *testing.T) {
	runBothBackends(t, func(t *testing.T, fx storeFixture) {
		ctx := context.Background()

		msgs, cancel, err := fx.store.Subscribe(ctx, "events")
		testutil.NoError(t, err)
		defer cancel()

		testutil.NoError(t, fx.store.Publish(ctx, "events", "hello"))

		select {
		case got := <-msgs:
			testutil.Equal(t, "hello", got)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for published message")
		}
	})
}

func TestMemoryJanitorSweeps(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	m := NewMemory(clk)
	defer m.Close()
	ctx := context.Background()

	testutil.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	clk.Advance(2 * time.Minute)
	m.sweep()

	m.mu.Lock()
	_, present := m.entries["k"]
	m.mu.Unlock()
	testutil.False(t, present, "janitor should remove expired entries")
}

func TestRedisParseURLRejectsGarbage(t *testing.T) {
	_, err := NewRedis(RedisOptions{URL: "not-a-url"})
	testutil.Error(t, err)
}
