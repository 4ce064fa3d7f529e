package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mkorchagin/offline-shop/internal/models"
	"github.com/mkorchagin/offline-shop/internal/repo"
	"github.com/mkorchagin/offline-shop/internal/transport"
	"github.com/mkorchagin/offline-shop/pkg/logging"
)

type OutcomeKind int

const (
	// OutcomeCreated: order persisted, stock decremented.
	OutcomeCreated OutcomeKind = iota
	// OutcomeDuplicate: an order with this clientActionId already exists;
	// Order carries the original. Not an error.
	OutcomeDuplicate
	// OutcomeNeedsReconciliation: stock or price disagrees with the request;
	// Delta carries the correction and nothing was created.
	OutcomeNeedsReconciliation
	// OutcomeRejected: no line item survived validation.
	OutcomeRejected
)

// CreateOrderResult is the tagged outcome of an order submission. Exactly one
// of Order/Delta is meaningful depending on Kind.
type CreateOrderResult struct {
	Kind  OutcomeKind
	Order *models.Order
	Delta *transport.ReconciliationDelta
}

type OrderService struct {
	Repo   *repo.GormRepo
	Events *EventProducer
}

// CreateOrder is idempotent on req.ClientActionID. Stock is taken with a
// conditional per-line decrement; if a later line fails, the earlier
// decrements are compensated and the caller gets a reconciliation delta
// instead of a partially-stocked order.
func (s *OrderService) CreateOrder(ctx context.Context, req transport.CreateOrderRequest, userID string) (*CreateOrderResult, error) {
	existing, err := s.Repo.GetOrderByClientActionID(ctx, req.ClientActionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &CreateOrderResult{Kind: OutcomeDuplicate, Order: existing}, nil
	}

	delta, validated, total, err := s.validateLines(ctx, req.LineItems)
	if err != nil {
		return nil, err
	}
	if !delta.Empty() {
		return &CreateOrderResult{Kind: OutcomeNeedsReconciliation, Delta: delta}, nil
	}
	if len(validated) == 0 {
		return &CreateOrderResult{Kind: OutcomeRejected, Delta: delta}, nil
	}

	taken, err := s.takeStock(ctx, validated)
	if err != nil {
		return nil, err
	}
	if !taken {
		// A concurrent order won the race between validation and decrement.
		// Re-validate to build a fresh delta from current stock.
		delta, _, _, err := s.validateLines(ctx, req.LineItems)
		if err != nil {
			return nil, err
		}
		return &CreateOrderResult{Kind: OutcomeNeedsReconciliation, Delta: delta}, nil
	}

	order := &models.Order{
		ClientActionID:  req.ClientActionID,
		UserID:          userID,
		LineItems:       validated,
		TotalPrice:      total,
		Status:          models.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		Email:           req.Email,
	}

	if err := s.Repo.CreateOrder(ctx, order); err != nil {
		s.returnStock(ctx, validated)

		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, lookupErr := s.Repo.GetOrderByClientActionID(ctx, req.ClientActionID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if winner != nil {
				return &CreateOrderResult{Kind: OutcomeDuplicate, Order: winner}, nil
			}
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := s.Events.PublishOrderCreated(ctx, order); err != nil {
		logging.FromContext(ctx).Warn("publish order.created failed", "order_id", order.ID, "error", err)
	}

	return &CreateOrderResult{Kind: OutcomeCreated, Order: order}, nil
}

// validateLines re-fetches every product and classifies each line: removed
// (missing product or zero stock), adjusted (short stock or price drift), or
// valid at the current price.
func (s *OrderService) validateLines(ctx context.Context, lines []transport.OrderLineItem) (*transport.ReconciliationDelta, []models.OrderItem, decimal.Decimal, error) {
	delta := &transport.ReconciliationDelta{
		AdjustedItems: []transport.AdjustedItem{},
		RemovedItems:  []transport.RemovedItem{},
	}
	var validated []models.OrderItem
	var total decimal.Decimal

	for _, line := range lines {
		id, err := uuid.Parse(line.ProductID)
		if err != nil {
			delta.RemovedItems = append(delta.RemovedItems, transport.RemovedItem{
				ProductID: line.ProductID,
				Reason:    reasonNotFound,
			})
			continue
		}

		product, err := s.Repo.GetProduct(ctx, id)
		if err != nil {
			return nil, nil, decimal.Zero, err
		}
		if product == nil {
			delta.RemovedItems = append(delta.RemovedItems, transport.RemovedItem{
				ProductID: line.ProductID,
				Reason:    reasonNotFound,
			})
			continue
		}

		if product.Stock < line.Quantity {
			if product.Stock == 0 {
				delta.RemovedItems = append(delta.RemovedItems, transport.RemovedItem{
					ProductID: line.ProductID,
					Name:      product.Name,
					Reason:    reasonOutOfStock,
				})
			} else {
				delta.AdjustedItems = append(delta.AdjustedItems, transport.AdjustedItem{
					ProductID:         product.ID.String(),
					Name:              product.Name,
					RequestedQuantity: line.Quantity,
					AdjustedQuantity:  product.Stock,
					OldPrice:          line.Price,
					NewPrice:          product.Price,
				})
			}
			continue
		}

		if !product.Price.Equal(line.Price) {
			delta.AdjustedItems = append(delta.AdjustedItems, transport.AdjustedItem{
				ProductID: product.ID.String(),
				Name:      product.Name,
				OldPrice:  line.Price,
				NewPrice:  product.Price,
			})
		}

		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		validated = append(validated, models.OrderItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			Price:     product.Price,
			Name:      product.Name,
			ImageURL:  product.ImageURL,
		})
	}

	delta.NewTotalPrice = total
	return delta, validated, total, nil
}

// takeStock decrements stock line by line. On the first failure it puts back
// what it already took and reports false.
func (s *OrderService) takeStock(ctx context.Context, items []models.OrderItem) (bool, error) {
	for i, item := range items {
		ok, err := s.Repo.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil || !ok {
			s.returnStock(ctx, items[:i])
			return false, err
		}
	}
	return true, nil
}

func (s *OrderService) returnStock(ctx context.Context, items []models.OrderItem) {
	for _, item := range items {
		if err := s.Repo.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			logging.FromContext(ctx).Error("stock compensation failed",
				"product_id", item.ProductID, "quantity", item.Quantity, "error", err)
		}
	}
}

func (s *OrderService) ListOrders(ctx context.Context, userID, email string) ([]models.Order, error) {
	return s.Repo.ListOrders(ctx, userID, email)
}

// GetOrder returns the order with line-item product data refreshed from the
// catalog where the product still exists.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.Repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}

	for i := range order.LineItems {
		product, err := s.Repo.GetProduct(ctx, order.LineItems[i].ProductID)
		if err != nil {
			return nil, err
		}
		if product != nil {
			order.LineItems[i].Name = product.Name
			order.LineItems[i].ImageURL = product.ImageURL
		}
	}
	return order, nil
}
