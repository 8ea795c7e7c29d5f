package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator validates a coupon for an account against a set of items and
// returns the computed discount. It does not consume the coupon.
type Validator interface {
	Validate(ctx context.Context, code, accountID string, items []Item) (*Discount, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository and applying them via Apply.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate checks activity, validity window, usage limit and prior redemption
// by the account, then applies the rule to items.
func (v *RepoValidator) Validate(ctx context.Context, code, accountID string, items []Item) (*Discount, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !rule.Active || !rule.InWindow(v.now()) {
		return nil, ErrCouponExpired
	}
	if rule.Exhausted() {
		return nil, ErrCouponUsageLimitReached
	}

	if accountID != "" {
		used, err := v.repo.IsRedeemed(ctx, rule.Code, accountID)
		if err != nil {
			return nil, errors.Wrap(err, "check redemption")
		}
		if used {
			return nil, ErrAlreadyRedeemed
		}
	}

	d, err := Apply(rule, items)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
