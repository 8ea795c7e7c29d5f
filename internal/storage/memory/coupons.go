package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

// Coupons is a coupon.Repository. Codes match case-insensitively.
type Coupons struct {
	mu       sync.Mutex
	rules    map[string]coupon.Rule
	redeemed map[string]string
}

var _ coupon.Repository = (*Coupons)(nil)

// NewCoupons creates a Coupons repository holding rules.
func NewCoupons(rules ...coupon.Rule) *Coupons {
	c := &Coupons{
		rules:    make(map[string]coupon.Rule, len(rules)),
		redeemed: map[string]string{},
	}
	for _, r := range rules {
		c.rules[strings.ToUpper(r.Code)] = r
	}
	return c
}

// FindByCode implements coupon.Repository.
func (c *Coupons) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rules[strings.ToUpper(code)]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &r, nil
}

// IsRedeemed implements coupon.Repository.
func (c *Coupons) IsRedeemed(_ context.Context, code, accountID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.redeemed[redemptionKey(code, accountID)]
	return ok, nil
}

// Redeem implements coupon.Repository.
func (c *Coupons) Redeem(_ context.Context, code, accountID, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := redemptionKey(code, accountID)
	if _, ok := c.redeemed[key]; ok {
		return coupon.ErrAlreadyRedeemed
	}
	r, ok := c.rules[strings.ToUpper(code)]
	if !ok {
		return coupon.ErrInvalidCoupon
	}
	r.Uses++
	c.rules[strings.ToUpper(code)] = r
	c.redeemed[key] = orderID
	return nil
}

func redemptionKey(code, accountID string) string {
	return strings.ToUpper(code) + "/" + accountID
}
