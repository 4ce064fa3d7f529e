// Package cart is the in-memory view over the local store's cart collection.
package cart

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mkorchagin/offline-shop/internal/client/api"
	"github.com/mkorchagin/offline-shop/internal/client/store"
	"github.com/mkorchagin/offline-shop/internal/transport"
)

// Manager owns all cart mutations. Every mutation persists first and then
// pushes the canonical cart to subscribers, so the UI always renders what the
// store holds.
type Manager struct {
	store  *store.Store
	api    *api.Client
	online func() bool
	log    *slog.Logger

	mu   sync.Mutex
	subs []func([]store.CartItem)
}

func New(s *store.Store, a *api.Client, online func() bool, log *slog.Logger) *Manager {
	if online == nil {
		online = func() bool { return false }
	}
	return &Manager{store: s, api: a, online: online, log: log}
}

// Subscribe registers a listener for cart changes. Listeners run on the
// mutating goroutine and must not block.
func (m *Manager) Subscribe(fn func([]store.CartItem)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Manager) notify(items []store.CartItem) {
	m.mu.Lock()
	subs := make([]func([]store.CartItem), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(items)
	}
}

func (m *Manager) Cart(ctx context.Context) ([]store.CartItem, error) {
	return m.store.Cart(ctx)
}

// AddToCart adds one unit of the product, incrementing the line if it is
// already there. Deliberately no validation call: drift is caught on the next
// quantity edit or at checkout.
func (m *Manager) AddToCart(ctx context.Context, p store.Product) ([]store.CartItem, error) {
	items, err := m.store.AddToCart(ctx, store.CartItem{
		ProductID: p.ID,
		Quantity:  1,
		Price:     p.Price,
		Name:      p.Name,
		ImageURL:  p.ImageURL,
	})
	if err != nil {
		return nil, err
	}
	m.notify(items)
	return items, nil
}

// UpdateItem sets a line's quantity (<= 0 removes it) and, when online, kicks
// off a whole-cart validation in the background. The caller never waits on
// the network.
func (m *Manager) UpdateItem(ctx context.Context, productID string, qty int) ([]store.CartItem, error) {
	items, err := m.store.UpdateCartItem(ctx, productID, qty)
	if err != nil {
		return nil, err
	}
	m.notify(items)

	if m.online() {
		go m.validateAndReconcile(context.WithoutCancel(ctx), items)
	}
	return items, nil
}

func (m *Manager) RemoveFromCart(ctx context.Context, productID string) ([]store.CartItem, error) {
	items, err := m.store.RemoveFromCart(ctx, productID)
	if err != nil {
		return nil, err
	}
	m.notify(items)
	return items, nil
}

func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.ClearCart(ctx); err != nil {
		return err
	}
	m.notify(nil)
	return nil
}

// validateAndReconcile is best-effort: a failed call is logged and dropped,
// never surfaced, since the cart works fully offline.
func (m *Manager) validateAndReconcile(ctx context.Context, items []store.CartItem) {
	if len(items) == 0 {
		return
	}

	req := make([]transport.CartItemRequest, 0, len(items))
	for _, it := range items {
		price := it.Price
		req = append(req, transport.CartItemRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     &price,
		})
	}

	resp, err := m.api.ValidateCart(ctx, req)
	if err != nil {
		m.log.Debug("cart validation skipped", "error", err)
		return
	}
	if !resp.HasChanges {
		return
	}

	if _, err := m.Reconcile(ctx, &resp.ReconciliationDelta); err != nil {
		m.log.Warn("cart reconciliation failed", "error", err)
	}
}

// Reconcile rewrites the cart to the server-authoritative delta: adjusted
// lines get the new quantity and price, removed lines go away, everything
// else stays. Idempotent, so a stale or repeated delta cannot corrupt the
// cart beyond what the server already decided.
func (m *Manager) Reconcile(ctx context.Context, delta *transport.ReconciliationDelta) ([]store.CartItem, error) {
	err := m.store.Tx(func(tx *store.Store) error {
		for _, adj := range delta.AdjustedItems {
			item, err := tx.GetCartItem(ctx, adj.ProductID)
			if err != nil {
				return err
			}
			if item == nil {
				continue
			}
			if adj.AdjustedQuantity > 0 {
				item.Quantity = adj.AdjustedQuantity
			}
			item.Price = adj.NewPrice
			if err := tx.PutCartItem(ctx, *item); err != nil {
				return err
			}
		}
		for _, rem := range delta.RemovedItems {
			if _, err := tx.RemoveFromCart(ctx, rem.ProductID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	items, err := m.store.Cart(ctx)
	if err != nil {
		return nil, err
	}
	m.notify(items)
	return items, nil
}

// CartTotal is derived, never stored.
func (m *Manager) CartTotal(ctx context.Context) (decimal.Decimal, error) {
	items, err := m.store.Cart(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var total decimal.Decimal
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total, nil
}

func (m *Manager) ItemCount(ctx context.Context) (int, error) {
	items, err := m.store.Cart(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return count, nil
}
