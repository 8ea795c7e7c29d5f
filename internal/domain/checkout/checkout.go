// Package checkout implements the three phase checkout flow layered on the
// session cart: address, shipping and payment.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/identity"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// Phase is a checkout step.
type Phase string

const (
	PhaseAddress  Phase = "ADDRESS"
	PhaseShipping Phase = "SHIPPING"
	PhasePayment  Phase = "PAYMENT"
)

func (p Phase) rank() int {
	switch p {
	case PhaseShipping:
		return 1
	case PhasePayment:
		return 2
	default:
		return 0
	}
}

// ParsePhase parses a phase name.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseAddress, PhaseShipping, PhasePayment:
		return p, nil
	default:
		return "", errors.Wrapf(ErrInvalidTransition, "unknown phase %q", s)
	}
}

var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrNoAuthorization       = errors.New("no live payment authorization")
	ErrCouponRequiresAccount = errors.New("coupons require a signed-in account")
	ErrConfirmInProgress     = errors.New("payment confirmation in progress")
	ErrCheckoutCompleted     = errors.New("checkout already completed")
	ErrInvalidTransition     = errors.New("invalid phase transition")
	// ErrInputsChanged is returned when the inputs changed while a
	// collaborator call was outstanding; the caller may retry.
	ErrInputsChanged = errors.New("checkout inputs changed")
)

// Notices shown to the customer without blocking the flow.
const (
	NoticeEmptyCart        = "Your cart is empty. Add items to continue checkout."
	NoticeQuoteUnavailable = "Shipping fees could not be updated. The final amount is confirmed at payment."
	NoticeSlow             = "This is taking longer than expected."
)

// Session is a read-only view of the checkout.
type Session struct {
	Phase          Phase
	Address        address.Address
	CouponCode     string
	ShippingMethod quote.Method
	Quote          *quote.Quote
	Snapshot       *payment.Snapshot
	Authorization  *payment.Authorization
	Completed      bool
	Notice         string
	Slow           bool
	Totals         Totals
}

// Cart is the cart the checkout runs on.
type Cart interface {
	State() cart.State
	Subscribe(fn func(cart.State)) (cancel func())
	Clear(ctx context.Context)
}

// IdentitySource reports the current session identity.
type IdentitySource interface {
	Current() identity.Identity
}

// CouponChecker is the coupon pre-check.
type CouponChecker interface {
	Check(ctx context.Context, code, accountID string) (*coupon.Eligibility, error)
}

// QuoteFetcher fetches shipping quotes, dropping overtaken responses.
type QuoteFetcher interface {
	Fetch(ctx context.Context, req quote.Request, apply func(quote.Quote)) (quote.Outcome, error)
	Invalidate()
}

// Payments is the payment session manager.
type Payments interface {
	Begin(ctx context.Context, in payment.Inputs) (*payment.Authorization, error)
	Confirm(ctx context.Context, auth *payment.Authorization, details payment.Details) error
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Cart     Cart
	Identity IdentitySource
	Coupons  CouponChecker
	Quotes   QuoteFetcher
	Payments Payments
	// OnComplete runs after a successful confirm and cart clear.
	OnComplete func(ctx context.Context)
}

// Config tunes a Machine.
type Config struct {
	// SlowNoticeAfter raises NoticeSlow while a collaborator call is
	// outstanding for longer than this.
	SlowNoticeAfter time.Duration
	// TaxEstimateRate is used for the provisional total shown before the
	// server snapshot exists.
	TaxEstimateRate decimal.Decimal
}

const defaultSlowNoticeAfter = 3 * time.Second
