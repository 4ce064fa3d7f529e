package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkorchagin/offline-shop/internal/repo"
	"github.com/mkorchagin/offline-shop/internal/transport"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func TestCartService_ValidateCart_UnchangedCartIsValid(t *testing.T) {
	db := newTestDB(t)
	svc := &CartService{Repo: repo.New(db)}
	p := seedProduct(t, db, "10.00", 5)

	resp, err := svc.ValidateCart(context.Background(), []transport.CartItemRequest{
		{ProductID: p.ID.String(), Quantity: 2, Price: ptr(dec("10.00"))},
	})
	require.NoError(t, err)

	assert.True(t, resp.Valid)
	assert.False(t, resp.HasChanges)
	assert.Empty(t, resp.AdjustedItems)
	assert.Empty(t, resp.RemovedItems)
	assert.True(t, dec("20.00").Equal(resp.NewTotalPrice))
}

func TestCartService_ValidateCart_PriceChanged(t *testing.T) {
	db := newTestDB(t)
	svc := &CartService{Repo: repo.New(db)}
	p := seedProduct(t, db, "12.50", 5)

	resp, err := svc.ValidateCart(context.Background(), []transport.CartItemRequest{
		{ProductID: p.ID.String(), Quantity: 1, Price: ptr(dec("9.99"))},
	})
	require.NoError(t, err)

	assert.False(t, resp.Valid)
	assert.True(t, resp.HasChanges)
	require.Len(t, resp.AdjustedItems, 1)

	adj := resp.AdjustedItems[0]
	assert.True(t, dec("9.99").Equal(adj.OldPrice))
	assert.True(t, dec("12.50").Equal(adj.NewPrice))
	assert.True(t, dec("9.99").Equal(adj.OldSubtotal))
	assert.True(t, dec("12.50").Equal(adj.NewSubtotal))
	assert.True(t, dec("12.50").Equal(resp.NewTotalPrice))
}

func TestCartService_ValidateCart_DriftWithinToleranceIgnored(t *testing.T) {
	db := newTestDB(t)
	svc := &CartService{Repo: repo.New(db)}
	p := seedProduct(t, db, "10.00", 5)

	resp, err := svc.ValidateCart(context.Background(), []transport.CartItemRequest{
		{ProductID: p.ID.String(), Quantity: 1, Price: ptr(dec("10.01"))},
	})
	require.NoError(t, err)

	assert.True(t, resp.Valid)
	assert.Empty(t, resp.AdjustedItems)
}

func TestCartService_ValidateCart_QuantityClampedToStock(t *testing.T) {
	db := newTestDB(t)
	svc := &CartService{Repo: repo.New(db)}
	p := seedProduct(t, db, "10.00", 3)

	resp, err := svc.ValidateCart(context.Background(), []transport.CartItemRequest{
		{ProductID: p.ID.String(), Quantity: 5, Price: ptr(dec("10.00"))},
	})
	require.NoError(t, err)

	assert.True(t, resp.HasChanges)
	require.Len(t, resp.AdjustedItems, 1)
	adj := resp.AdjustedItems[0]
	assert.Equal(t, 5, adj.RequestedQuantity)
	assert.Equal(t, 3, adj.AdjustedQuantity)
	assert.True(t, dec("30.00").Equal(resp.NewTotalPrice))
}

func TestCartService_ValidateCart_MissingProductRemoved(t *testing.T) {
	db := newTestDB(t)
	svc := &CartService{Repo: repo.New(db)}

	resp, err := svc.ValidateCart(context.Background(), []transport.CartItemRequest{
		{ProductID: uuid.NewString(), Quantity: 1},
		{ProductID: "garbage-id", Quantity: 1},
	})
	require.NoError(t, err)

	assert.True(t, resp.HasChanges)
	require.Len(t, resp.RemovedItems, 2)
	for _, rem := range resp.RemovedItems {
		assert.Equal(t, "Product not found", rem.Reason)
	}
	assert.True(t, resp.NewTotalPrice.IsZero())
}

func TestCartService_ValidateCart_OutOfStockRemoved(t *testing.T) {
	db := newTestDB(t)
	svc := &CartService{Repo: repo.New(db)}
	p := seedProduct(t, db, "10.00", 0)

	resp, err := svc.ValidateCart(context.Background(), []transport.CartItemRequest{
		{ProductID: p.ID.String(), Quantity: 1, Price: ptr(dec("10.00"))},
	})
	require.NoError(t, err)

	assert.True(t, resp.HasChanges)
	require.Len(t, resp.RemovedItems, 1)
	assert.Equal(t, "Out of stock", resp.RemovedItems[0].Reason)
	assert.Equal(t, "Widget", resp.RemovedItems[0].Name)
}

func TestCartService_ValidateCart_MixedCart(t *testing.T) {
	db := newTestDB(t)
	svc := &CartService{Repo: repo.New(db)}
	ok := seedProduct(t, db, "4.00", 10)
	low := seedProduct(t, db, "6.00", 1)

	resp, err := svc.ValidateCart(context.Background(), []transport.CartItemRequest{
		{ProductID: ok.ID.String(), Quantity: 2, Price: ptr(dec("4.00"))},
		{ProductID: low.ID.String(), Quantity: 3, Price: ptr(dec("6.00"))},
		{ProductID: uuid.NewString(), Quantity: 1},
	})
	require.NoError(t, err)

	assert.True(t, resp.HasChanges)
	require.Len(t, resp.AdjustedItems, 1)
	require.Len(t, resp.RemovedItems, 1)

	// 2*4.00 + 1*6.00; the removed line contributes nothing.
	assert.True(t, dec("14.00").Equal(resp.NewTotalPrice))
}
