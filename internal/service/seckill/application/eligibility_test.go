package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/domain/port"
	"seckill/internal/service/seckill/infrastructure/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProducts struct {
	port.ProductRepository
	calls atomic.Int64

	mu  sync.Mutex
	err error
}

func (c *countingProducts) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	c.calls.Add(1)
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.ProductRepository.FindByID(ctx, id)
}

func (c *countingProducts) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

type fixedHint int64

func (f fixedHint) Remaining(context.Context, string) (int64, error) { return int64(f), nil }

func newTestCache(t *testing.T, repo port.ProductRepository, hint StockHinter, clk clock.Clock) *EligibilityCache {
	t.Helper()
	cache, err := NewEligibilityCache(repo, hint, clk, EligibilityConfig{TTL: time.Hour, MissWindow: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

func TestEligibilityCacheLoadsOnceThenServesFromMemory(t *testing.T) {
	clk := clock.NewManual(saleStart.Add(time.Minute))
	repo := &countingProducts{ProductRepository: persistence.NewMemoryProductRepository(testProduct("p-1", 10))}
	cache := newTestCache(t, repo, fixedHint(7), clk)
	ctx := context.Background()

	snap, ok, err := cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 7, snap.StockHint)

	for i := 0; i < 5; i++ {
		_, ok, err = cache.IsEligible(ctx, "p-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.EqualValues(t, 1, repo.calls.Load())

	clk.Advance(time.Hour)
	_, _, err = cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.calls.Load(), "expired snapshot is reloaded")
}

func TestEligibilityCacheMissWindow(t *testing.T) {
	clk := clock.NewManual(saleStart.Add(time.Minute))
	repo := &countingProducts{ProductRepository: persistence.NewMemoryProductRepository()}
	cache := newTestCache(t, repo, fixedHint(1), clk)
	ctx := context.Background()

	_, ok, err := cache.IsEligible(ctx, "ghost")
	require.NoError(t, err, "unknown product is a plain ineligible answer")
	assert.False(t, ok)

	_, ok, err = cache.IsEligible(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 1, repo.calls.Load(), "second miss inside the window does not touch the store")

	clk.Advance(3 * time.Second)
	_, _, _ = cache.IsEligible(ctx, "ghost")
	assert.EqualValues(t, 2, repo.calls.Load())
}

func TestEligibilityCacheLoadFailureIsTransient(t *testing.T) {
	clk := clock.NewManual(saleStart.Add(time.Minute))
	repo := &countingProducts{ProductRepository: persistence.NewMemoryProductRepository(testProduct("p-1", 10))}
	repo.setErr(errors.New("db down"))
	cache := newTestCache(t, repo, fixedHint(1), clk)
	ctx := context.Background()

	_, ok, err := cache.IsEligible(ctx, "p-1")
	assert.False(t, ok)
	assert.True(t, domain.IsTransient(err))

	repo.setErr(nil)
	_, ok, err = cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, ok, "still inside the miss window")

	clk.Advance(3 * time.Second)
	_, ok, err = cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEligibilityCacheWindowAndStockHint(t *testing.T) {
	clk := clock.NewManual(saleStart.Add(-time.Second))
	repo := persistence.NewMemoryProductRepository()
	cache := newTestCache(t, repo, nil, clk)
	ctx := context.Background()

	cache.Prime(testProduct("p-1", 10).Snapshot(10))

	_, ok, err := cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, ok, "window not open yet")

	clk.Set(saleStart)
	_, ok, _ = cache.IsEligible(ctx, "p-1")
	assert.True(t, ok, "start is inclusive")

	cache.MarkSoldOut("p-1")
	_, ok, _ = cache.IsEligible(ctx, "p-1")
	assert.False(t, ok)

	cache.RefreshStockHint("p-1", 1)
	_, ok, _ = cache.IsEligible(ctx, "p-1")
	assert.True(t, ok)

	clk.Set(saleStart.Add(time.Hour))
	_, ok, _ = cache.IsEligible(ctx, "p-1")
	assert.False(t, ok, "end is exclusive")
}

func TestEligibilityCacheDisabledProduct(t *testing.T) {
	clk := clock.NewManual(saleStart.Add(time.Minute))
	p := testProduct("p-1", 10)
	p.Enabled = false
	cache := newTestCache(t, persistence.NewMemoryProductRepository(p), fixedHint(10), clk)

	_, ok, err := cache.IsEligible(context.Background(), "p-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

type mutableHint struct{ remaining atomic.Int64 }

func (m *mutableHint) Remaining(context.Context, string) (int64, error) { return m.remaining.Load(), nil }

// 售罄标记只保留 SoldOutTTL，之后回源可以看到其他实例回补的库存
func TestEligibilityCacheSoldOutMarkerExpiresEarly(t *testing.T) {
	clk := clock.NewManual(saleStart.Add(time.Minute))
	hint := &mutableHint{}
	hint.remaining.Store(3)
	repo := &countingProducts{ProductRepository: persistence.NewMemoryProductRepository(testProduct("p-1", 3))}
	cache, err := NewEligibilityCache(repo, hint, clk, EligibilityConfig{TTL: time.Hour, MissWindow: 2 * time.Second, SoldOutTTL: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	ctx := context.Background()

	_, ok, err := cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, ok)

	hint.remaining.Store(0)
	cache.MarkSoldOut("p-1")
	snap, ok, err := cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, snap.SoldOutAt(clk.Now()))

	hint.remaining.Store(1)
	clk.Advance(time.Second)
	_, ok, _ = cache.IsEligible(ctx, "p-1")
	assert.False(t, ok, "marker still valid")
	assert.EqualValues(t, 1, repo.calls.Load())

	clk.Advance(time.Second)
	snap, ok, err = cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1, snap.StockHint)
	assert.EqualValues(t, 2, repo.calls.Load())
}

// 剩余量为正的提示不会缩短快照有效期
func TestEligibilityCachePositiveHintKeepsTTL(t *testing.T) {
	clk := clock.NewManual(saleStart.Add(time.Minute))
	repo := &countingProducts{ProductRepository: persistence.NewMemoryProductRepository(testProduct("p-1", 3))}
	cache, err := NewEligibilityCache(repo, fixedHint(3), clk, EligibilityConfig{TTL: time.Hour, SoldOutTTL: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	ctx := context.Background()

	_, _, err = cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	cache.RefreshStockHint("p-1", 1)

	clk.Advance(time.Minute)
	snap, ok, err := cache.IsEligible(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1, snap.StockHint)
	assert.EqualValues(t, 1, repo.calls.Load())
}
