package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkorchagin/offline-shop/internal/repo"
	"github.com/mkorchagin/offline-shop/internal/transport"
)

// priceTolerance is the drift below which a submitted price still counts as
// current. Keeps rounding noise from flagging every cart as changed.
var priceTolerance = decimal.NewFromFloat(0.01)

const (
	reasonNotFound   = "Product not found"
	reasonOutOfStock = "Out of stock"
)

// CartService re-prices and re-stocks submitted carts against the catalog.
// It never mutates anything, so it is safe to call repeatedly and
// concurrently.
type CartService struct {
	Repo *repo.GormRepo
}

func (s *CartService) ValidateCart(ctx context.Context, items []transport.CartItemRequest) (*transport.ValidateCartResponse, error) {
	resp := &transport.ValidateCartResponse{
		ReconciliationDelta: transport.ReconciliationDelta{
			AdjustedItems: []transport.AdjustedItem{},
			RemovedItems:  []transport.RemovedItem{},
		},
	}

	for _, item := range items {
		id, err := uuid.Parse(item.ProductID)
		if err != nil {
			resp.RemovedItems = append(resp.RemovedItems, transport.RemovedItem{
				ProductID: item.ProductID,
				Reason:    reasonNotFound,
			})
			resp.HasChanges = true
			continue
		}

		product, err := s.Repo.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		if product == nil {
			resp.RemovedItems = append(resp.RemovedItems, transport.RemovedItem{
				ProductID: item.ProductID,
				Reason:    reasonNotFound,
			})
			resp.HasChanges = true
			continue
		}
		if product.Stock == 0 {
			resp.RemovedItems = append(resp.RemovedItems, transport.RemovedItem{
				ProductID: item.ProductID,
				Name:      product.Name,
				Reason:    reasonOutOfStock,
			})
			resp.HasChanges = true
			continue
		}

		adjustedQty := item.Quantity
		if product.Stock < adjustedQty {
			adjustedQty = product.Stock
		}

		cartPrice := product.Price
		if item.Price != nil {
			cartPrice = *item.Price
		}
		priceChanged := cartPrice.Sub(product.Price).Abs().GreaterThan(priceTolerance)

		newSubtotal := product.Price.Mul(decimal.NewFromInt(int64(adjustedQty)))

		if adjustedQty != item.Quantity || priceChanged {
			resp.HasChanges = true
			resp.AdjustedItems = append(resp.AdjustedItems, transport.AdjustedItem{
				ProductID:         product.ID.String(),
				Name:              product.Name,
				ImageURL:          product.ImageURL,
				RequestedQuantity: item.Quantity,
				AdjustedQuantity:  adjustedQty,
				OldPrice:          cartPrice,
				NewPrice:          product.Price,
				OldSubtotal:       cartPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
				NewSubtotal:       newSubtotal,
			})
		}

		resp.NewTotalPrice = resp.NewTotalPrice.Add(newSubtotal)
	}

	resp.Valid = !resp.HasChanges
	return resp, nil
}
