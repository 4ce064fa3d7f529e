// Package transport holds the wire types shared by the HTTP handlers and the
// offline client. Field names are part of the persisted client state as well
// as the API, so changes here are schema changes.
package transport

import (
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Money goes over the wire as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrorResponse is the body of every 400 caused by a malformed
// request, with field-level detail.
type ValidationErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details"`
}

type CartItemRequest struct {
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type ValidateCartRequest struct {
	Items []CartItemRequest `json:"items"`
}

func (r *ValidateCartRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Items == nil {
		errs = append(errs, FieldError{Field: "items", Message: "items is required"})
		return errs
	}
	for i, it := range r.Items {
		if it.ProductID == "" {
			errs = append(errs, FieldError{Field: field("items", i, "productId"), Message: "productId is required"})
		}
		if it.Quantity < 1 {
			errs = append(errs, FieldError{Field: field("items", i, "quantity"), Message: "quantity must be at least 1"})
		}
		if it.Price != nil && it.Price.IsNegative() {
			errs = append(errs, FieldError{Field: field("items", i, "price"), Message: "price must be at least 0"})
		}
	}
	return errs
}

type AdjustedItem struct {
	ProductID         string          `json:"productId"`
	Name              string          `json:"name,omitempty"`
	ImageURL          string          `json:"imageURL,omitempty"`
	RequestedQuantity int             `json:"requestedQuantity,omitempty"`
	AdjustedQuantity  int             `json:"adjustedQuantity,omitempty"`
	OldPrice          decimal.Decimal `json:"oldPrice"`
	NewPrice          decimal.Decimal `json:"newPrice"`
	OldSubtotal       decimal.Decimal `json:"oldSubtotal"`
	NewSubtotal       decimal.Decimal `json:"newSubtotal"`
}

type RemovedItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Reason    string `json:"reason"`
}

// ReconciliationDelta is the server-authoritative correction to a client cart.
// Applying it twice must be a no-op relative to applying it once.
type ReconciliationDelta struct {
	AdjustedItems []AdjustedItem  `json:"adjustedItems"`
	RemovedItems  []RemovedItem   `json:"removedItems"`
	NewTotalPrice decimal.Decimal `json:"newTotalPrice"`
}

func (d *ReconciliationDelta) Empty() bool {
	return len(d.AdjustedItems) == 0 && len(d.RemovedItems) == 0
}

type ValidateCartResponse struct {
	Valid      bool `json:"valid"`
	HasChanges bool `json:"hasChanges"`
	ReconciliationDelta
}

type OrderLineItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name,omitempty"`
	ImageURL  string          `json:"imageURL,omitempty"`
}

type CreateOrderRequest struct {
	ClientActionID  string          `json:"clientActionId"`
	LineItems       []OrderLineItem `json:"lineItems"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	ShippingAddress string          `json:"shippingAddress"`
	Email           string          `json:"email"`
}

func (r *CreateOrderRequest) Validate() []FieldError {
	var errs []FieldError
	if _, err := uuid.Parse(r.ClientActionID); err != nil {
		errs = append(errs, FieldError{Field: "clientActionId", Message: "clientActionId must be a UUID"})
	}
	if len(r.LineItems) == 0 {
		errs = append(errs, FieldError{Field: "lineItems", Message: "lineItems must contain at least 1 item"})
	}
	for i, it := range r.LineItems {
		if it.ProductID == "" {
			errs = append(errs, FieldError{Field: field("lineItems", i, "productId"), Message: "productId is required"})
		}
		if it.Quantity < 1 {
			errs = append(errs, FieldError{Field: field("lineItems", i, "quantity"), Message: "quantity must be at least 1"})
		}
		if it.Price.IsNegative() {
			errs = append(errs, FieldError{Field: field("lineItems", i, "price"), Message: "price must be at least 0"})
		}
	}
	if r.TotalPrice.IsNegative() {
		errs = append(errs, FieldError{Field: "totalPrice", Message: "totalPrice must be at least 0"})
	}
	if r.ShippingAddress == "" {
		errs = append(errs, FieldError{Field: "shippingAddress", Message: "shippingAddress is required"})
	}
	if !emailRe.MatchString(r.Email) {
		errs = append(errs, FieldError{Field: "email", Message: "email must be a valid email"})
	}
	return errs
}

type ReconciliationResponse struct {
	Error string `json:"error"`
	ReconciliationDelta
}

type PaginatedProducts struct {
	Products   any        `json:"products"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

func field(prefix string, i int, name string) string {
	return prefix + "." + strconv.Itoa(i) + "." + name
}
