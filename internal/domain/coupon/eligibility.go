package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Eligibility is the answer of the coupon eligibility collaborator.
type Eligibility struct {
	Valid                       bool
	Active                      bool
	AlreadyUsedByCurrentAccount bool

	// Display hints for the provisional total. The authoritative discount is
	// computed at authorization time.
	PercentOff decimal.Decimal
	AmountOff  decimal.Decimal
	MinItems   int
}

// EligibilitySource answers eligibility queries. Unknown codes return
// ErrInvalidCoupon.
type EligibilitySource interface {
	Eligibility(ctx context.Context, code, accountID string) (*Eligibility, error)
}

// RepoEligibility implements EligibilitySource from a Repository.
type RepoEligibility struct {
	repo Repository
	now  func() time.Time
}

// NewRepoEligibility creates a RepoEligibility backed by repo.
func NewRepoEligibility(repo Repository) *RepoEligibility {
	return &RepoEligibility{repo: repo, now: time.Now}
}

// Eligibility reports whether code can be used by accountID right now.
// Exhausted or out-of-window coupons are neither valid nor active.
func (e *RepoEligibility) Eligibility(ctx context.Context, code, accountID string) (*Eligibility, error) {
	rule, err := e.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	active := rule.Active && rule.InWindow(e.now()) && !rule.Exhausted()
	out := &Eligibility{
		Valid:    active,
		Active:   active,
		MinItems: rule.MinItems,
	}
	switch rule.DiscountType {
	case DiscountPercentage:
		out.PercentOff = rule.Value
	case DiscountFixed:
		out.AmountOff = rule.Value
	}

	if accountID != "" {
		used, err := e.repo.IsRedeemed(ctx, rule.Code, accountID)
		if err != nil {
			return nil, errors.Wrap(err, "check redemption")
		}
		out.AlreadyUsedByCurrentAccount = used
	}
	return out, nil
}
