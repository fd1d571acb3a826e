package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seckill/internal/pkg/clock"
	"seckill/internal/service/seckill/domain"
	"seckill/internal/service/seckill/infrastructure/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(s *store.MemoryStore, clk clock.Clock) *InventoryLedger {
	return NewInventoryLedger(s, clk, LedgerConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

func TestLedgerNeverOversells(t *testing.T) {
	const (
		stock   = 25
		callers = 200
	)
	clk := clock.NewManual(saleStart)
	ledger := newTestLedger(store.NewMemoryStore(clk), clk)
	ctx := context.Background()
	_, err := ledger.Initialize(ctx, "p-1", stock, "e1")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		soldOut atomic.Int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Decrement(ctx, "u", "p-1", 1)
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, domain.ErrInsufficientStock):
				soldOut.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok.Load(), "demand exceeds supply, so every unit is sold exactly once")
	assert.EqualValues(t, callers-stock, soldOut.Load())

	remaining, err := ledger.Remaining(ctx, "p-1")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestLedgerLastUnitHasExactlyOneWinner(t *testing.T) {
	clk := clock.NewManual(saleStart)
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		ledger := newTestLedger(store.NewMemoryStore(clk), clk)
		_, err := ledger.Initialize(ctx, "p-1", 1, "e1")
		require.NoError(t, err)

		results := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				_, err := ledger.Decrement(ctx, "u", "p-1", 1)
				results <- err
			}()
		}
		first, second := <-results, <-results
		if first == nil {
			assert.ErrorIs(t, second, domain.ErrInsufficientStock)
		} else {
			assert.ErrorIs(t, first, domain.ErrInsufficientStock)
			assert.NoError(t, second)
		}
	}
}

func TestLedgerInsufficientStockLeavesEntryUntouched(t *testing.T) {
	clk := clock.NewManual(saleStart)
	ledger := newTestLedger(store.NewMemoryStore(clk), clk)
	ctx := context.Background()
	_, err := ledger.Initialize(ctx, "p-1", 2, "e1")
	require.NoError(t, err)

	_, err = ledger.Decrement(ctx, "u", "p-1", 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	remaining, ok := domain.ObservedRemaining(err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, remaining)

	entry, err := ledger.Snapshot(ctx, "p-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, entry.Remaining)
	assert.Zero(t, entry.Sequence)
}

func TestLedgerRestoreIsIdempotent(t *testing.T) {
	clk := clock.NewManual(saleStart)
	ledger := newTestLedger(store.NewMemoryStore(clk), clk)
	ctx := context.Background()
	_, err := ledger.Initialize(ctx, "p-1", 10, "e1")
	require.NoError(t, err)

	r, err := ledger.Decrement(ctx, "u-1", "p-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "e1", r.Epoch)

	restored, err := ledger.Restore(ctx, r)
	require.NoError(t, err)
	assert.True(t, restored)

	restored, err = ledger.Restore(ctx, r)
	require.NoError(t, err)
	assert.False(t, restored, "second restore is a no-op")

	remaining, err := ledger.Remaining(ctx, "p-1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, remaining)
}

func TestLedgerConcurrentRestoresApplyOnce(t *testing.T) {
	clk := clock.NewManual(saleStart)
	ledger := newTestLedger(store.NewMemoryStore(clk), clk)
	ctx := context.Background()
	_, err := ledger.Initialize(ctx, "p-1", 5, "e1")
	require.NoError(t, err)
	r, err := ledger.Decrement(ctx, "u-1", "p-1", 2)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		applied atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Restore(ctx, r)
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, applied.Load())
	remaining, err := ledger.Remaining(ctx, "p-1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, remaining)
}

func TestLedgerIgnoresStaleCompensation(t *testing.T) {
	clk := clock.NewManual(saleStart)
	s := store.NewMemoryStore(clk)
	ledger := newTestLedger(s, clk)
	ctx := context.Background()
	_, err := ledger.Initialize(ctx, "p-1", 5, "e1")
	require.NoError(t, err)
	r, err := ledger.Decrement(ctx, "u-1", "p-1", 1)
	require.NoError(t, err)

	// 新一轮销售重新初始化了账本
	require.NoError(t, s.Delete(ctx, StockKey("p-1")))
	_, err = ledger.Initialize(ctx, "p-1", 5, "e2")
	require.NoError(t, err)

	restored, err := ledger.Restore(ctx, r)
	require.NoError(t, err)
	assert.False(t, restored)

	remaining, err := ledger.Remaining(ctx, "p-1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, remaining)
}

func TestLedgerInitialize(t *testing.T) {
	clk := clock.NewManual(saleStart)
	ledger := newTestLedger(store.NewMemoryStore(clk), clk)
	ctx := context.Background()

	_, err := ledger.Decrement(ctx, "u", "p-1", 1)
	assert.ErrorIs(t, err, domain.ErrLedgerNotInitialized)

	_, err = ledger.Initialize(ctx, "p-1", 10, "e1")
	require.NoError(t, err)
	_, err = ledger.Decrement(ctx, "u", "p-1", 4)
	require.NoError(t, err)

	entry, err := ledger.Initialize(ctx, "p-1", 10, "e1")
	require.NoError(t, err, "re-initializing the same epoch is a no-op")
	assert.EqualValues(t, 6, entry.Remaining, "live sale is not reset")

	_, err = ledger.Initialize(ctx, "p-1", 20, "e1")
	assert.ErrorIs(t, err, domain.ErrLedgerConflict)
	_, err = ledger.Initialize(ctx, "p-1", 10, "e2")
	assert.ErrorIs(t, err, domain.ErrLedgerConflict)
}

func TestLedgerRetriesTransientStoreErrors(t *testing.T) {
	clk := clock.NewManual(saleStart)
	ctx := context.Background()

	s := newFlakyStore(clk, 0)
	ledger := NewInventoryLedger(s, clk, LedgerConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	_, err := ledger.Initialize(ctx, "p-1", 3, "e1")
	require.NoError(t, err)

	s.mu.Lock()
	s.failGets = 2
	s.mu.Unlock()
	_, err = ledger.Decrement(ctx, "u", "p-1", 1)
	require.NoError(t, err, "two failures fit inside the retry budget")

	s.mu.Lock()
	s.failGets = 10
	s.mu.Unlock()
	_, err = ledger.Decrement(ctx, "u", "p-1", 1)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.ErrorIs(t, err, errStoreDown)

	s.mu.Lock()
	s.failGets = 0
	s.mu.Unlock()
	remaining, err := ledger.Remaining(ctx, "p-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, remaining, "failed attempt did not mutate stock")
}
