// Package api is the client's view of the storefront HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mkorchagin/offline-shop/internal/client/store"
	"github.com/mkorchagin/offline-shop/internal/transport"
)

type OutcomeKind int

const (
	OutcomeCreated OutcomeKind = iota
	OutcomeDuplicate
	OutcomeNeedsReconciliation
	OutcomeRejected
)

// CreateOrderOutcome is the tagged result of an order submission. A transport
// failure is reported as an error instead, which is the signal to keep the
// action queued.
type CreateOrderOutcome struct {
	Kind  OutcomeKind
	Order *store.Order
	Delta *transport.ReconciliationDelta
}

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Ready reports whether the server answers its readiness probe. Used as the
// connectivity signal.
func (c *Client) Ready(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/health/ready")
	return err == nil && resp.StatusCode() == http.StatusOK
}

func (c *Client) ValidateCart(ctx context.Context, items []transport.CartItemRequest) (*transport.ValidateCartResponse, error) {
	var out transport.ValidateCartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(transport.ValidateCartRequest{Items: items}).
		SetResult(&out).
		Post("/cart/validate")
	if err != nil {
		return nil, fmt.Errorf("validate cart: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("validate cart: unexpected status %d", resp.StatusCode())
	}
	return &out, nil
}

// CreateOrder submits the order and classifies the response. 201 is a fresh
// order, 200 the idempotent duplicate, 400 either a reconciliation delta or
// an outright rejection.
func (c *Client) CreateOrder(ctx context.Context, req transport.CreateOrderRequest) (*CreateOrderOutcome, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusCreated, http.StatusOK:
		var body struct {
			Order       store.Order `json:"order"`
			IsDuplicate bool        `json:"isDuplicate"`
		}
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return nil, fmt.Errorf("create order: decode response: %w", err)
		}
		kind := OutcomeCreated
		if body.IsDuplicate {
			kind = OutcomeDuplicate
		}
		return &CreateOrderOutcome{Kind: kind, Order: &body.Order}, nil

	case http.StatusBadRequest:
		var body transport.ReconciliationResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return nil, fmt.Errorf("create order: decode response: %w", err)
		}
		kind := OutcomeNeedsReconciliation
		if body.Error == "No valid items in order" {
			kind = OutcomeRejected
		}
		return &CreateOrderOutcome{Kind: kind, Delta: &body.ReconciliationDelta}, nil

	default:
		return nil, fmt.Errorf("create order: unexpected status %d", resp.StatusCode())
	}
}

func (c *Client) GetOrders(ctx context.Context, userID, email string) ([]store.Order, error) {
	var out []store.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("userId", userID).
		SetQueryParam("email", email).
		SetResult(&out).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get orders: unexpected status %d", resp.StatusCode())
	}
	return out, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*store.Order, error) {
	var out store.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/orders/" + id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order: unexpected status %d", resp.StatusCode())
	}
	return &out, nil
}

// FetchProducts pages through the catalog for the offline snapshot.
func (c *Client) FetchProducts(ctx context.Context, page, limit int) ([]store.Product, *transport.Pagination, error) {
	var out struct {
		Products   []store.Product      `json:"products"`
		Pagination transport.Pagination `json:"pagination"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("page", fmt.Sprint(page)).
		SetQueryParam("limit", fmt.Sprint(limit)).
		SetResult(&out).
		Get("/products")
	if err != nil {
		return nil, nil, fmt.Errorf("fetch products: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch products: unexpected status %d", resp.StatusCode())
	}
	return out.Products, &out.Pagination, nil
}

func (c *Client) FetchCategories(ctx context.Context) ([]store.Category, error) {
	var out []store.Category
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/categories")
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch categories: unexpected status %d", resp.StatusCode())
	}
	return out, nil
}
