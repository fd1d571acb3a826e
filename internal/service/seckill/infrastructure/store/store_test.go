package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/domain/port"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFixture 让同一组用例同时跑在内存和 Redis 实现上
type storeFixture struct {
	store   port.Store
	advance func(d time.Duration)
}

func memoryFixture(t *testing.T) storeFixture {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return storeFixture{store: NewMemoryStore(clk), advance: clk.Advance}
}

func redisFixture(t *testing.T) storeFixture {
	mr := miniredis.RunT(t)
	rc := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	s, err := NewRedisStore(rc)
	require.NoError(t, err)
	return storeFixture{store: s, advance: mr.FastForward}
}

func forEachStore(t *testing.T, fn func(t *testing.T, f storeFixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, memoryFixture(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, redisFixture(t)) })
}

func TestStoreGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		_, err := f.store.Get(context.Background(), "absent")
		assert.ErrorIs(t, err, port.ErrNotFound)
	})
}

func TestStoreCompareAndSwap(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()

		v1, err := f.store.CompareAndSwap(ctx, "k", []byte("one"), 0)
		require.NoError(t, err)

		_, err = f.store.CompareAndSwap(ctx, "k", []byte("again"), 0)
		assert.ErrorIs(t, err, port.ErrVersionConflict, "create must fail when key exists")

		v2, err := f.store.CompareAndSwap(ctx, "k", []byte("two"), v1)
		require.NoError(t, err)
		assert.Greater(t, v2, v1)

		_, err = f.store.CompareAndSwap(ctx, "k", []byte("stale"), v1)
		assert.ErrorIs(t, err, port.ErrVersionConflict)

		got, err := f.store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got.Value))
		assert.Equal(t, v2, got.Version)
	})
}

func TestStoreVersionNotReusedAfterDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()

		v1, err := f.store.Put(ctx, "k", []byte("a"), 0)
		require.NoError(t, err)
		require.NoError(t, f.store.Delete(ctx, "k"))
		f.advance(time.Millisecond)

		v2, err := f.store.Put(ctx, "k", []byte("b"), 0)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		_, err = f.store.CompareAndSwap(ctx, "k", []byte("c"), v1)
		assert.ErrorIs(t, err, port.ErrVersionConflict)
	})
}

func TestStoreSetIfAbsentHonoursTTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()

		ok, err := f.store.SetIfAbsent(ctx, "guard", []byte("x"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = f.store.SetIfAbsent(ctx, "guard", []byte("y"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		f.advance(2 * time.Minute)

		ok, err = f.store.SetIfAbsent(ctx, "guard", []byte("z"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "expired record is no longer live")
	})
}

func TestStoreCompareAndSwapKeepsTTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()

		_, err := f.store.SetIfAbsent(ctx, "rec", []byte("a"), time.Minute)
		require.NoError(t, err)
		cur, err := f.store.Get(ctx, "rec")
		require.NoError(t, err)
		_, err = f.store.CompareAndSwap(ctx, "rec", []byte("b"), cur.Version)
		require.NoError(t, err)

		f.advance(2 * time.Minute)
		_, err = f.store.Get(ctx, "rec")
		assert.ErrorIs(t, err, port.ErrNotFound)
	})
}

func TestStoreScanByPrefix(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		for _, k := range []string{"a:1", "a:2", "b:1"} {
			_, err := f.store.Put(ctx, k, []byte("v"), 0)
			require.NoError(t, err)
		}
		keys, err := f.store.Scan(ctx, "a:")
		require.NoError(t, err)
		assert.Equal(t, []string{"a:1", "a:2"}, keys)
	})
}

func TestStoreConcurrentSetIfAbsentSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := f.store.SetIfAbsent(context.Background(), "race", []byte("v"), time.Minute)
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestMemoryStoreDeleteDuringContention(t *testing.T) {
	clk := clock.NewManual(time.Now())
	s := NewMemoryStore(clk)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Put(ctx, "hot", []byte("v"), 0)
		}()
		go func() {
			defer wg.Done()
			_ = s.Delete(ctx, "hot")
		}()
	}
	wg.Wait()

	_, err := s.Put(ctx, "hot", []byte("final"), 0)
	require.NoError(t, err)
	got, err := s.Get(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, "final", string(got.Value))
}
