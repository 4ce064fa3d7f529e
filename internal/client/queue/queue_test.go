package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkorchagin/offline-shop/internal/client/api"
	"github.com/mkorchagin/offline-shop/internal/client/store"
	"github.com/mkorchagin/offline-shop/internal/transport"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "client.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedCart(t *testing.T, s *store.Store) []store.CartItem {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveProducts(ctx, []store.Product{
		{ID: "p1", Name: "Widget", Price: dec("10.00"), Stock: 1},
	}))
	items, err := s.AddToCart(ctx, store.CartItem{
		ProductID: "p1", Quantity: 2, Price: dec("10.00"), Name: "Widget",
	})
	require.NoError(t, err)
	return items
}

// orderServer fakes POST /orders with a fixed response per request count.
func orderServer(handler http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", handler)
	return httptest.NewServer(mux)
}

func confirmedOrderBody(t *testing.T, req transport.CreateOrderRequest, duplicate bool) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"order": store.Order{
			ID:             uuid.NewString(),
			ClientActionID: req.ClientActionID,
			LineItems:      req.LineItems,
			TotalPrice:     req.TotalPrice,
			Status:         "pending",
			CreatedAt:      time.Now().UTC(),
		},
		"message":     "Order created successfully",
		"isDuplicate": duplicate,
	})
	require.NoError(t, err)
	return body
}

func decodeOrderReq(t *testing.T, r *http.Request) transport.CreateOrderRequest {
	t.Helper()
	var req transport.CreateOrderRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestQueue_SubmitCheckoutOffline_IsAtomic(t *testing.T) {
	s := newTestStore(t)
	q := New(s, api.New("http://127.0.0.1:0", time.Second), ReconcileHold, slog.Default())
	ctx := context.Background()

	items := seedCart(t, s)
	order, err := q.SubmitCheckoutOffline(ctx, items, "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	assert.Equal(t, "temp-"+order.ClientActionID, order.ID)
	assert.True(t, order.IsOffline)
	assert.True(t, dec("20.00").Equal(order.TotalPrice))

	// Cart cleared, action queued, provisional order cached.
	cart, err := s.Cart(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart)

	actions, err := s.QueuedActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, order.ClientActionID, actions[0].ID)
	assert.Equal(t, ActionCheckout, actions[0].Type)

	cached, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)

	// Cached stock dropped optimistically, floored at zero.
	p, err := s.GetCachedProduct(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 0, p.Stock)
}

func TestQueue_SubmitCheckoutOffline_EmptyCart(t *testing.T) {
	s := newTestStore(t)
	q := New(s, api.New("http://127.0.0.1:0", time.Second), ReconcileHold, slog.Default())

	_, err := q.SubmitCheckoutOffline(context.Background(), nil, "1 Test Street", "buyer@example.com")
	require.Error(t, err)
}

func TestQueue_Replay_ConfirmsCheckout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := orderServer(func(w http.ResponseWriter, r *http.Request) {
		req := decodeOrderReq(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(confirmedOrderBody(t, req, false))
	})
	defer srv.Close()

	q := New(s, api.New(srv.URL, time.Second), ReconcileHold, slog.Default())
	items := seedCart(t, s)
	provisional, err := q.SubmitCheckoutOffline(ctx, items, "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	require.NoError(t, q.Replay(ctx))

	// Action gone, temp order swapped for the confirmed one.
	actions, err := s.QueuedActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	gone, err := s.GetOrder(ctx, provisional.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	orders, err := s.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, provisional.ClientActionID, orders[0].ClientActionID)
	assert.NotEqual(t, provisional.ID, orders[0].ID)
	assert.False(t, orders[0].IsOffline)

	// Catalog snapshot dropped so the next refresh fetches real stock.
	products, err := s.CachedProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestQueue_Replay_DuplicateResponse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := orderServer(func(w http.ResponseWriter, r *http.Request) {
		req := decodeOrderReq(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(confirmedOrderBody(t, req, true))
	})
	defer srv.Close()

	q := New(s, api.New(srv.URL, time.Second), ReconcileHold, slog.Default())
	provisional, err := q.SubmitCheckoutOffline(ctx, seedCart(t, s), "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	require.NoError(t, q.Replay(ctx))

	actions, err := s.QueuedActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	orders, err := s.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.NotEqual(t, provisional.ID, orders[0].ID)
}

func TestQueue_Replay_ReconciliationHeld(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := orderServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ReconciliationResponse{
			Error: "Cart needs reconciliation",
			ReconciliationDelta: transport.ReconciliationDelta{
				RemovedItems: []transport.RemovedItem{
					{ProductID: "p1", Name: "Widget", Reason: "Out of stock"},
				},
			},
		})
	})
	defer srv.Close()

	q := New(s, api.New(srv.URL, time.Second), ReconcileHold, slog.Default())

	var held []store.PendingAction
	var heldDelta *transport.ReconciliationDelta
	q.OnReconciliationNeeded(func(a store.PendingAction, delta *transport.ReconciliationDelta) {
		held = append(held, a)
		heldDelta = delta
	})

	provisional, err := q.SubmitCheckoutOffline(ctx, seedCart(t, s), "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	require.NoError(t, q.Replay(ctx))

	// Action parked, provisional order still visible.
	attention, err := s.ActionsNeedingAttention(ctx)
	require.NoError(t, err)
	require.Len(t, attention, 1)

	require.Len(t, held, 1)
	require.NotNil(t, heldDelta)
	assert.Equal(t, "Out of stock", heldDelta.RemovedItems[0].Reason)

	cached, err := s.GetOrder(ctx, provisional.ID)
	require.NoError(t, err)
	assert.NotNil(t, cached)

	// A second replay pass must not resubmit a parked action.
	require.NoError(t, q.Replay(ctx))
	assert.Len(t, held, 1)
}

func TestQueue_Replay_ReconciliationDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := orderServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ReconciliationResponse{
			Error: "Cart needs reconciliation",
			ReconciliationDelta: transport.ReconciliationDelta{
				RemovedItems: []transport.RemovedItem{{ProductID: "p1", Reason: "Out of stock"}},
			},
		})
	})
	defer srv.Close()

	q := New(s, api.New(srv.URL, time.Second), ReconcileDrop, slog.Default())
	provisional, err := q.SubmitCheckoutOffline(ctx, seedCart(t, s), "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	require.NoError(t, q.Replay(ctx))

	actions, err := s.QueuedActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	attention, err := s.ActionsNeedingAttention(ctx)
	require.NoError(t, err)
	assert.Empty(t, attention)

	gone, err := s.GetOrder(ctx, provisional.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestQueue_Replay_TransportFailureKeepsAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Nothing listens here.
	q := New(s, api.New("http://127.0.0.1:0", 200*time.Millisecond), ReconcileHold, slog.Default())
	provisional, err := q.SubmitCheckoutOffline(ctx, seedCart(t, s), "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	require.NoError(t, q.Replay(ctx))

	actions, err := s.QueuedActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, store.ActionStatusQueued, actions[0].Status)

	cached, err := s.GetOrder(ctx, provisional.ID)
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestQueue_Replay_ConcurrentPassesSubmitOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var posts atomic.Int32
	srv := orderServer(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		time.Sleep(50 * time.Millisecond)
		req := decodeOrderReq(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(confirmedOrderBody(t, req, false))
	})
	defer srv.Close()

	q := New(s, api.New(srv.URL, time.Second), ReconcileHold, slog.Default())
	_, err := q.SubmitCheckoutOffline(ctx, seedCart(t, s), "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	const passes = 4
	errs := make([]error, passes)
	var wg sync.WaitGroup
	for i := 0; i < passes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = q.Replay(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, posts.Load())

	orders, err := s.Orders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestQueue_Resolve_DiscardDropsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := New(s, api.New("http://127.0.0.1:0", time.Second), ReconcileHold, slog.Default())
	provisional, err := q.SubmitCheckoutOffline(ctx, seedCart(t, s), "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	actionID := provisional.ClientActionID
	require.NoError(t, s.MarkActionNeedsAttention(ctx, actionID))

	require.NoError(t, q.Resolve(ctx, actionID, false))

	action, err := s.GetPendingAction(ctx, actionID)
	require.NoError(t, err)
	assert.Nil(t, action)

	gone, err := s.GetOrder(ctx, provisional.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestQueue_Resolve_RetryRequeues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := New(s, api.New("http://127.0.0.1:0", time.Second), ReconcileHold, slog.Default())
	provisional, err := q.SubmitCheckoutOffline(ctx, seedCart(t, s), "1 Test Street", "buyer@example.com")
	require.NoError(t, err)

	actionID := provisional.ClientActionID
	require.NoError(t, s.MarkActionNeedsAttention(ctx, actionID))

	require.NoError(t, q.Resolve(ctx, actionID, true))

	actions, err := s.QueuedActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, actionID, actions[0].ID)
}
