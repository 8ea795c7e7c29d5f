// Package order prices checkouts on the server and keeps the pending orders
// that payment authorizations refer to.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// ErrNotFound is returned for unknown orders.
var ErrNotFound = errors.New("order not found")

// Status is the payment state of an order.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Order is a priced order awaiting or having received payment.
type Order struct {
	ID             string
	AccountID      string
	Secret         string
	Status         Status
	Items          []Item
	Address        address.Address
	ShippingMethod quote.Method
	CouponCode     string
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Shipping       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	CreatedAt      time.Time
	PaidAt         *time.Time
}

// Item is a priced order line.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindBySecret(ctx context.Context, secret string) (*Order, error)
	// MarkPaid reports whether the order moved from pending to paid.
	MarkPaid(ctx context.Context, id string, at time.Time) (bool, error)
}
