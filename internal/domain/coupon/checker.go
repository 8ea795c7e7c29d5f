package coupon

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Reason is a user-actionable cause of a coupon rejection.
type Reason string

const (
	ReasonInvalid     Reason = "invalid"
	ReasonInactive    Reason = "inactive"
	ReasonAlreadyUsed Reason = "already_used"
	// ReasonUnavailable means the check itself failed.
	ReasonUnavailable Reason = "unavailable"
)

// Message returns the text shown to the customer.
func (r Reason) Message() string {
	switch r {
	case ReasonInvalid:
		return "not a valid coupon code"
	case ReasonInactive:
		return "not currently active"
	case ReasonAlreadyUsed:
		return "already used by this account"
	default:
		return "could not be checked, please try again"
	}
}

// RejectionError is returned when a coupon cannot be used.
type RejectionError struct {
	Code   string
	Reason Reason
	cause  error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("coupon %q %s", e.Code, e.Reason.Message())
}

func (e *RejectionError) Unwrap() error { return e.cause }

// Checker is the read-only coupon pre-check run before leaving the address
// phase.
type Checker struct {
	source EligibilitySource
}

// NewChecker creates a Checker querying source.
func NewChecker(source EligibilitySource) *Checker {
	return &Checker{source: source}
}

// Check returns the eligibility of code for accountID, or a *RejectionError
// naming why it cannot be used. A prior redemption takes precedence over
// inactivity, which takes precedence over invalidity.
func (c *Checker) Check(ctx context.Context, code, accountID string) (*Eligibility, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &RejectionError{Code: code, Reason: ReasonInvalid}
	}

	e, err := c.source.Eligibility(ctx, code, accountID)
	switch {
	case errors.Is(err, ErrInvalidCoupon):
		return nil, &RejectionError{Code: code, Reason: ReasonInvalid, cause: err}
	case err != nil:
		zctx.From(ctx).Warn("Coupon eligibility check failed",
			zap.String("code", code),
			zap.Error(err),
		)
		return nil, &RejectionError{Code: code, Reason: ReasonUnavailable, cause: err}
	case e.AlreadyUsedByCurrentAccount:
		return nil, &RejectionError{Code: code, Reason: ReasonAlreadyUsed}
	case !e.Active:
		return nil, &RejectionError{Code: code, Reason: ReasonInactive}
	case !e.Valid:
		return nil, &RejectionError{Code: code, Reason: ReasonInvalid}
	}
	return e, nil
}
