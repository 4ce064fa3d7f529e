// Package queue records user intents that the server has not confirmed and
// replays them when connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkorchagin/offline-shop/internal/client/api"
	"github.com/mkorchagin/offline-shop/internal/client/store"
	"github.com/mkorchagin/offline-shop/internal/transport"
)

const (
	ActionAdd      = "ADD"
	ActionRemove   = "REMOVE"
	ActionCheckout = "CHECKOUT"
)

// ReconcilePolicy decides what happens to a queued checkout that the server
// answers with a reconciliation delta. That outcome is permanent for the
// action: retrying the same payload can never succeed.
type ReconcilePolicy int

const (
	// ReconcileHold parks the action as needs_attention and keeps the
	// provisional order until the user resolves it. Default.
	ReconcileHold ReconcilePolicy = iota
	// ReconcileDrop deletes the action and its provisional order outright.
	ReconcileDrop
)

// Queue replays pending actions oldest first. Replay may be invoked
// concurrently and repeatedly; each action is claimed through a conditional
// status update in the store, so overlapping passes never double-submit.
type Queue struct {
	store  *store.Store
	api    *api.Client
	policy ReconcilePolicy
	log    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	onReconcile func(action store.PendingAction, delta *transport.ReconciliationDelta)
}

func New(s *store.Store, a *api.Client, policy ReconcilePolicy, log *slog.Logger) *Queue {
	return &Queue{
		store:    s,
		api:      a,
		policy:   policy,
		log:      log,
		inFlight: make(map[string]struct{}),
	}
}

// OnReconciliationNeeded registers the hook invoked when a held checkout
// needs a user decision. Must be set before Replay runs.
func (q *Queue) OnReconciliationNeeded(fn func(action store.PendingAction, delta *transport.ReconciliationDelta)) {
	q.onReconcile = fn
}

// ProvisionalOrderID is the id an offline checkout is cached under until the
// server confirms it.
func ProvisionalOrderID(clientActionID string) string {
	return "temp-" + clientActionID
}

// SubmitCheckoutOffline queues a checkout that could not reach the server.
// In one transaction it persists the action, optimistically decrements the
// cached stock of each line (floored at zero), writes the provisional order
// and clears the cart. Either the whole checkout is recorded or none of it
// is; the cart is never lost without a queued action to show for it.
func (q *Queue) SubmitCheckoutOffline(ctx context.Context, items []store.CartItem, shippingAddress, email string) (*store.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cart is empty")
	}

	clientActionID := uuid.NewString()

	lines := make([]transport.OrderLineItem, 0, len(items))
	var total decimal.Decimal
	for _, it := range items {
		lines = append(lines, transport.OrderLineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Name:      it.Name,
			ImageURL:  it.ImageURL,
		})
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	req := transport.CreateOrderRequest{
		ClientActionID:  clientActionID,
		LineItems:       lines,
		TotalPrice:      total,
		ShippingAddress: shippingAddress,
		Email:           email,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode checkout payload: %w", err)
	}

	provisional := &store.Order{
		ID:              ProvisionalOrderID(clientActionID),
		ClientActionID:  clientActionID,
		LineItems:       lines,
		TotalPrice:      total,
		Status:          "pending",
		ShippingAddress: shippingAddress,
		Email:           email,
		CreatedAt:       time.Now().UTC(),
		IsOffline:       true,
	}

	err = q.store.Tx(func(tx *store.Store) error {
		if err := tx.AddPendingAction(ctx, &store.PendingAction{
			ID:      clientActionID,
			Type:    ActionCheckout,
			Payload: payload,
		}); err != nil {
			return err
		}

		for _, line := range lines {
			product, err := tx.GetCachedProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if product == nil {
				continue
			}
			product.Stock -= line.Quantity
			if product.Stock < 0 {
				product.Stock = 0
			}
			if err := tx.SaveProducts(ctx, []store.Product{*product}); err != nil {
				return err
			}
		}

		if err := tx.SaveOrder(ctx, provisional); err != nil {
			return err
		}
		return tx.ClearCart(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("queue offline checkout: %w", err)
	}

	q.log.Info("checkout queued offline", "client_action_id", clientActionID)
	return provisional, nil
}

// Replay pushes every queued action at the server, oldest first. Actions that
// fail on transport stay queued for the next pass; every other outcome
// removes or parks the action. Safe to call from overlapping goroutines.
func (q *Queue) Replay(ctx context.Context) error {
	actions, err := q.store.QueuedActions(ctx)
	if err != nil {
		return fmt.Errorf("load queued actions: %w", err)
	}
	if len(actions) == 0 {
		return nil
	}

	q.log.Info("replaying pending actions", "count", len(actions))
	for _, action := range actions {
		if !q.claim(ctx, action.ID) {
			continue
		}
		if err := q.process(ctx, action); err != nil {
			q.log.Error("replay action failed", "action_id", action.ID, "error", err)
		}
		q.release(action.ID)
	}
	return nil
}

// claim marks an action in-flight. The in-memory set short-circuits the
// common overlap; the store's conditional update is the durable guard.
func (q *Queue) claim(ctx context.Context, id string) bool {
	q.mu.Lock()
	if _, busy := q.inFlight[id]; busy {
		q.mu.Unlock()
		return false
	}
	q.inFlight[id] = struct{}{}
	q.mu.Unlock()

	ok, err := q.store.ClaimAction(ctx, id)
	if err != nil || !ok {
		q.release(id)
		return false
	}
	return true
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.inFlight, id)
	q.mu.Unlock()
}

func (q *Queue) process(ctx context.Context, action store.PendingAction) error {
	switch action.Type {
	case ActionAdd, ActionRemove:
		// Already reflected in local cart state, nothing to send.
		return q.store.DeletePendingAction(ctx, action.ID)
	case ActionCheckout:
		return q.processCheckout(ctx, action)
	default:
		q.log.Warn("dropping action of unknown type", "action_id", action.ID, "type", action.Type)
		return q.store.DeletePendingAction(ctx, action.ID)
	}
}

func (q *Queue) processCheckout(ctx context.Context, action store.PendingAction) error {
	var req transport.CreateOrderRequest
	if err := json.Unmarshal(action.Payload, &req); err != nil {
		q.log.Error("checkout payload unreadable, holding for user", "action_id", action.ID, "error", err)
		return q.store.MarkActionNeedsAttention(ctx, action.ID)
	}

	outcome, err := q.api.CreateOrder(ctx, req)
	if err != nil {
		// Transport failure: the action goes back to queued and a later
		// replay retries it.
		q.log.Info("checkout replay deferred", "action_id", action.ID, "error", err)
		return q.store.ReleaseAction(ctx, action.ID)
	}

	tempID := ProvisionalOrderID(req.ClientActionID)

	switch outcome.Kind {
	case api.OutcomeCreated, api.OutcomeDuplicate:
		err := q.store.Tx(func(tx *store.Store) error {
			if err := tx.ReplaceOrder(ctx, tempID, outcome.Order); err != nil {
				return err
			}
			if err := tx.DeletePendingAction(ctx, action.ID); err != nil {
				return err
			}
			// Stock moved server-side; force a catalog re-fetch.
			return tx.ClearProducts(ctx)
		})
		if err != nil {
			return err
		}
		q.log.Info("queued checkout confirmed",
			"action_id", action.ID, "order_id", outcome.Order.ID,
			"duplicate", outcome.Kind == api.OutcomeDuplicate)
		return nil

	default: // reconciliation required or rejected: permanent for this payload
		if q.policy == ReconcileDrop {
			q.log.Warn("queued checkout dropped after reconciliation response", "action_id", action.ID)
			return q.store.Tx(func(tx *store.Store) error {
				if err := tx.DeletePendingAction(ctx, action.ID); err != nil {
					return err
				}
				return tx.DeleteOrder(ctx, tempID)
			})
		}

		if err := q.store.MarkActionNeedsAttention(ctx, action.ID); err != nil {
			return err
		}
		q.log.Warn("queued checkout needs user attention", "action_id", action.ID)
		if q.onReconcile != nil {
			q.onReconcile(action, outcome.Delta)
		}
		return nil
	}
}

// Resolve finishes a held action: retry re-queues it as-is, otherwise the
// action and its provisional order are discarded.
func (q *Queue) Resolve(ctx context.Context, actionID string, retry bool) error {
	action, err := q.store.GetPendingAction(ctx, actionID)
	if err != nil {
		return err
	}
	if action == nil {
		return nil
	}

	if retry {
		return q.store.ReleaseAction(ctx, actionID)
	}

	return q.store.Tx(func(tx *store.Store) error {
		if err := tx.DeletePendingAction(ctx, actionID); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, ProvisionalOrderID(actionID))
	})
}
