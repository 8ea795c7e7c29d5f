package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	rules       map[string]*Rule
	redeemed    map[string]bool
	findErr     error
	redeemedErr error
	redemptions []string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	rule, ok := m.rules[code]
	if !ok {
		return nil, ErrInvalidCoupon
	}
	return rule, nil
}

func (m *mockCouponRepo) IsRedeemed(_ context.Context, code, accountID string) (bool, error) {
	return m.redeemed[code+"/"+accountID], m.redeemedErr
}

func (m *mockCouponRepo) Redeem(_ context.Context, code, accountID, orderID string) error {
	m.redemptions = append(m.redemptions, code+"/"+accountID+"/"+orderID)
	return nil
}

var (
	fixedNow   = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime   = fixedNow.Add(-24 * time.Hour)
	futureTime = fixedNow.Add(24 * time.Hour)
)

func testRepo() *mockCouponRepo {
	return &mockCouponRepo{
		rules: map[string]*Rule{
			"SAVE10":   {Code: "SAVE10", DiscountType: DiscountPercentage, Value: d("10"), Active: true},
			"FLAT5":    {Code: "FLAT5", DiscountType: DiscountFixed, Value: d("5"), Active: true, ValidFrom: &pastTime, ValidUntil: &futureTime},
			"EXPIRED1": {Code: "EXPIRED1", DiscountType: DiscountPercentage, Value: d("20"), Active: true, ValidUntil: &pastTime},
			"SOON":     {Code: "SOON", DiscountType: DiscountFixed, Value: d("5"), Active: true, ValidFrom: &futureTime},
			"OFF":      {Code: "OFF", DiscountType: DiscountFixed, Value: d("5")},
			"LIMITED":  {Code: "LIMITED", DiscountType: DiscountFixed, Value: d("5"), Active: true, MaxUses: 10, Uses: 10},
		},
		redeemed: map[string]bool{"SAVE10/acc-used": true},
	}
}

func TestRepoValidator_Validate(t *testing.T) {
	items := []Item{{ProductID: "p1", Price: d("100"), Quantity: 1}}

	tests := []struct {
		name    string
		code    string
		account string
		want    string
		wantErr error
	}{
		{name: "percentage", code: "SAVE10", account: "acc-1", want: "10.00"},
		{name: "inside window", code: "FLAT5", account: "acc-1", want: "5.00"},
		{name: "unknown", code: "BOGUS", wantErr: ErrInvalidCoupon},
		{name: "expired", code: "EXPIRED1", wantErr: ErrCouponExpired},
		{name: "not started", code: "SOON", wantErr: ErrCouponExpired},
		{name: "deactivated", code: "OFF", wantErr: ErrCouponExpired},
		{name: "usage limit", code: "LIMITED", wantErr: ErrCouponUsageLimitReached},
		{name: "already redeemed", code: "SAVE10", account: "acc-used", wantErr: ErrAlreadyRedeemed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(testRepo())
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), tt.code, tt.account, items)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount.StringFixed(2))
		})
	}
}

func TestRepoValidator_LookupError(t *testing.T) {
	repo := testRepo()
	repo.findErr = errors.New("connection reset")

	_, err := NewRepoValidator(repo).Validate(context.Background(), "SAVE10", "acc-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup coupon")
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
}
