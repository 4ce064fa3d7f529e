package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkorchagin/offline-shop/internal/transport"
)

// SchemaVersion is bumped on any incompatible change to the types below. An
// existing store written at another version is rebuilt from empty on Open.
const SchemaVersion = 2

const (
	ActionStatusQueued     = "queued"
	ActionStatusProcessing = "processing"
	// ActionStatusNeedsAttention parks an action that came back
	// reconciliation-required until the user resolves it.
	ActionStatusNeedsAttention = "needs_attention"
)

type CartItem struct {
	ProductID string          `gorm:"primaryKey" json:"productId"`
	Quantity  int             `gorm:"not null"   json:"quantity"`
	Price     decimal.Decimal `gorm:"not null"   json:"price"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"imageURL"`
}

func (CartItem) TableName() string { return "cart_items" }

// PendingAction records a user intent that has not been confirmed by the
// server. ID doubles as the idempotency key: for checkouts it is the
// clientActionId the server deduplicates on.
type PendingAction struct {
	ID        string `gorm:"primaryKey"                   json:"id"`
	Type      string `gorm:"index;not null"               json:"type"`
	Payload   []byte `json:"payload"`
	Status    string `gorm:"index;not null;default:queued" json:"status"`
	Timestamp int64  `gorm:"index;not null"               json:"timestamp"`
}

func (PendingAction) TableName() string { return "pending_actions" }

// Order mirrors the server order. Before confirmation an offline checkout is
// cached under the provisional id "temp-<clientActionId>" with IsOffline set.
type Order struct {
	ID              string                    `gorm:"primaryKey"      json:"id"`
	ClientActionID  string                    `gorm:"index"           json:"clientActionId"`
	LineItems       []transport.OrderLineItem `gorm:"serializer:json" json:"lineItems"`
	TotalPrice      decimal.Decimal           `json:"totalPrice"`
	Status          string                    `gorm:"index"           json:"status"`
	ShippingAddress string                    `json:"shippingAddress"`
	Email           string                    `gorm:"index"           json:"email"`
	CreatedAt       time.Time                 `gorm:"index"           json:"createdAt"`
	IsOffline       bool                      `json:"isOffline,omitempty"`
}

func (Order) TableName() string { return "orders" }

// Product is the cached catalog snapshot used for offline browsing and for
// the optimistic stock decrement on offline checkout.
type Product struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	Name        string          `json:"name"`
	CategoryID  string          `gorm:"index"      json:"categoryId"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"imageURL"`
	Description string          `json:"description"`
}

func (Product) TableName() string { return "cached_products" }

type Category struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ImageURL string `json:"imageURL"`
}

func (Category) TableName() string { return "cached_categories" }

type schemaInfo struct {
	ID      int `gorm:"primaryKey"`
	Version int
}

func (schemaInfo) TableName() string { return "schema_info" }
