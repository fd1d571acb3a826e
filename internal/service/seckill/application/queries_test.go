package application

import (
	"context"
	"testing"
	"time"

	"seckill/internal/service/seckill/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasParticipated(t *testing.T) {
	h := newHarness(t)
	h.addProduct(t, testProduct("p-1", 10))
	ctx := context.Background()

	got, err := h.service.HasParticipated(ctx, "u-1", "p-1")
	require.NoError(t, err)
	assert.False(t, got.Participated)

	res := h.service.Submit(ctx, SubmitRequest{UserID: "u-1", ProductID: "p-1", Quantity: 1})
	require.True(t, res.Accepted)

	got, err = h.service.HasParticipated(ctx, "u-1", "p-1")
	require.NoError(t, err)
	assert.True(t, got.Participated)
	assert.NotEmpty(t, got.Outcome)

	other, err := h.service.HasParticipated(ctx, "u-2", "p-1")
	require.NoError(t, err)
	assert.False(t, other.Participated)

	_, err = h.service.HasParticipated(ctx, "", "p-1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRemainingStock(t *testing.T) {
	h := newHarness(t)
	h.addProduct(t, testProduct("p-1", 10))
	ctx := context.Background()

	require.True(t, h.service.Submit(ctx, SubmitRequest{UserID: "u-1", ProductID: "p-1", Quantity: 1}).Accepted)

	level, err := h.service.RemainingStock(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, StockLevel{ProductID: "p-1", Remaining: 9}, level)

	// 已入库但未预热
	h.products.Put(testProduct("p-cold", 5))
	_, err = h.service.RemainingStock(ctx, "p-cold")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = h.service.RemainingStock(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestProductStatus(t *testing.T) {
	h := newHarness(t)
	h.addProduct(t, testProduct("p-1", 1))
	ctx := context.Background()

	st, err := h.service.ProductStatus(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, st.OnSale)
	assert.False(t, st.SoldOut)
	assert.Equal(t, saleStart, st.StartTime)

	require.True(t, h.service.Submit(ctx, SubmitRequest{UserID: "u-1", ProductID: "p-1", Quantity: 1}).Accepted)
	require.Equal(t, domain.ReasonInsufficientStock, h.service.Submit(ctx, SubmitRequest{UserID: "u-2", ProductID: "p-1", Quantity: 1}).Reason)

	st, err = h.service.ProductStatus(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, st.OnSale)
	assert.True(t, st.SoldOut)

	h.clock.Set(saleStart.Add(2 * time.Hour))
	st, err = h.service.ProductStatus(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, st.OnSale)
	assert.False(t, st.SoldOut, "window closed")

	_, err = h.service.ProductStatus(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}
