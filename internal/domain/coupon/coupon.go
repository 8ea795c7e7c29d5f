// Package coupon holds coupon rules, the server-side discount math applied at
// authorization time, and the read-only eligibility pre-check run before the
// checkout leaves the address phase.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest removes the cost of one unit of the cheapest item.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrInvalidCoupon is returned for unknown codes and for carts that do
	// not satisfy the minimum item requirement.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned outside the validity window of a coupon.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when all allowed uses are taken.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrAlreadyRedeemed is returned when the account already used the coupon.
	ErrAlreadyRedeemed = errors.New("coupon already redeemed by account")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	Description  string
	Active       bool
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	// MaxDiscount caps percentage discounts when positive.
	MaxDiscount decimal.Decimal
}

// InWindow reports whether now falls inside the validity window.
func (r *Rule) InWindow(now time.Time) bool {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}

// Exhausted reports whether the usage limit is reached.
func (r *Rule) Exhausted() bool {
	return r.MaxUses > 0 && r.Uses >= r.MaxUses
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Item represents a line item for discount calculation purposes.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Repository provides lookup of coupon rules and per-account redemptions.
// FindByCode returns ErrInvalidCoupon for unknown codes.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	IsRedeemed(ctx context.Context, code, accountID string) (bool, error)
	Redeem(ctx context.Context, code, accountID, orderID string) error
}
