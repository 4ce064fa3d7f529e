package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

type Category struct {
	ID       uuid.UUID `gorm:"primaryKey"       json:"id"`
	Name     string    `gorm:"not null"         json:"name"`
	Slug     string    `gorm:"uniqueIndex"      json:"slug"`
	ImageURL string    `json:"imageURL"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (Category) TableName() string { return "categories" }

type Product struct {
	ID          uuid.UUID       `gorm:"primaryKey"                json:"id"`
	Name        string          `gorm:"index;not null"            json:"name"`
	CategoryID  uuid.UUID       `gorm:"index;not null"            json:"categoryId"`
	Price       decimal.Decimal `gorm:"type:numeric;not null"     json:"price"`
	Stock       int             `gorm:"not null;check:stock >= 0" json:"stock"`
	ImageURL    string          `gorm:"not null"                  json:"imageURL"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (Product) TableName() string { return "products" }

// Order is the server-side order. ClientActionID carries the client-generated
// idempotency key; the unique index on it is the idempotency mechanism.
type Order struct {
	ID              uuid.UUID       `gorm:"primaryKey"            json:"id"`
	ClientActionID  string          `gorm:"uniqueIndex;not null"  json:"clientActionId"`
	UserID          string          `gorm:"index;not null"        json:"userId"`
	LineItems       []OrderItem     `gorm:"foreignKey:OrderID"    json:"lineItems"`
	TotalPrice      decimal.Decimal `gorm:"type:numeric;not null" json:"totalPrice"`
	Status          string          `gorm:"not null"              json:"status"`
	ShippingAddress string          `gorm:"not null"              json:"shippingAddress"`
	Email           string          `gorm:"index;not null"        json:"email"`
	CreatedAt       time.Time       `gorm:"index"                 json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (Order) TableName() string { return "orders" }

// OrderItem snapshots name/imageURL at purchase time so order history renders
// even after the product changes or disappears.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"primaryKey"                   json:"-"`
	OrderID   uuid.UUID       `gorm:"index;not null"               json:"-"`
	ProductID uuid.UUID       `gorm:"not null"                     json:"productId"`
	Quantity  int             `gorm:"not null;check:quantity > 0"  json:"quantity"`
	Price     decimal.Decimal `gorm:"type:numeric;not null"        json:"price"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"imageURL"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (OrderItem) TableName() string { return "order_items" }
