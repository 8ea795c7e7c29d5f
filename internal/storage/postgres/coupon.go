package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, value, min_items, description, active,
		valid_from, valid_until, max_uses, uses, max_discount
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	isRedeemedSQL = `SELECT EXISTS (SELECT 1 FROM coupon_redemptions
		WHERE UPPER(code) = UPPER($1) AND account_id = $2)`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (code, account_id, order_id)
		SELECT code, $2, $3 FROM coupons WHERE UPPER(code) = UPPER($1)
		ON CONFLICT (code, account_id) DO NOTHING`

	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1 WHERE UPPER(code) = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_items, description, active,
		valid_from, valid_until, max_uses, max_discount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value, min_items = EXCLUDED.min_items,
			description = EXCLUDED.description, active = EXCLUDED.active,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses, max_discount = EXCLUDED.max_discount`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive), active or not.
// Returns coupon.ErrInvalidCoupon when no coupon has the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// IsRedeemed reports whether accountID already used the coupon.
func (r *CouponRepository) IsRedeemed(ctx context.Context, code, accountID string) (bool, error) {
	var used bool
	if err := r.pool.QueryRow(ctx, isRedeemedSQL, code, accountID).Scan(&used); err != nil {
		return false, fmt.Errorf("checking redemption of %q: %w", code, err)
	}
	return used, nil
}

// Redeem records the use of the coupon by accountID and increments its usage
// counter. A second redemption by the same account fails with
// coupon.ErrAlreadyRedeemed.
func (r *CouponRepository) Redeem(ctx context.Context, code, accountID, orderID string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertRedemptionSQL, code, accountID, orderID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrAlreadyRedeemed
		}
		_, err = tx.Exec(ctx, incrementCouponUsesSQL, code)
		return err
	})
	if err != nil {
		if errors.Is(err, coupon.ErrAlreadyRedeemed) {
			return err
		}
		return fmt.Errorf("redeeming coupon %q: %w", code, err)
	}
	return nil
}

// Upsert creates or replaces a coupon rule. The usage counter is kept.
func (r *CouponRepository) Upsert(ctx context.Context, rule coupon.Rule) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		rule.Code, string(rule.DiscountType), rule.Value, rule.MinItems, rule.Description, rule.Active,
		rule.ValidFrom, rule.ValidUntil, rule.MaxUses, rule.MaxDiscount,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", rule.Code, err)
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		minItems     int32
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&rule.Code, &discountType, &rule.Value, &minItems, &rule.Description, &rule.Active,
		&validFrom, &validUntil, &maxUses, &uses, &rule.MaxDiscount,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.MinItems = int(minItems)
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	return rule, err
}
