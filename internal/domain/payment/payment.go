// Package payment manages payment authorizations: creating them against the
// server-priced order and confirming them with the payment collaborator.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// Item is an order line sent for server-side pricing.
type Item struct {
	ProductID string
	Quantity  int
}

// Inputs are everything an authorization is priced from.
type Inputs struct {
	AccountID      string
	Address        address.Address
	ShippingMethod quote.Method
	CouponCode     string
	Items          []Item
}

// Snapshot is the server's price breakdown. It is displayed verbatim.
type Snapshot struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Shipping   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	CouponCode string
}

// Authorization is a live payment authorization.
type Authorization struct {
	ID       string
	Secret   string
	Snapshot Snapshot
}

// Details carry the payment method entered by the customer.
type Details struct {
	// Token is the tokenized card produced by the payment widget.
	Token      string
	HolderName string
}

// Authorizer creates authorizations. It is the checkout backend.
type Authorizer interface {
	CreateAuthorization(ctx context.Context, in Inputs) (*Authorization, error)
}

// Processor is the external payment collaborator.
type Processor interface {
	Confirm(ctx context.Context, secret string, details Details) error
}

// Notifier tells the backend a payment went through. Calls are idempotent.
type Notifier interface {
	Finalize(ctx context.Context, authorizationID string) error
}

// DeclinedError is a payment failure the customer can fix by trying another
// payment method.
type DeclinedError struct {
	Message string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Message)
}

// AuthorizationError is a rejection of the authorization inputs by the
// backend, for example a coupon that stopped being valid.
type AuthorizationError struct {
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization rejected: %s", e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }
