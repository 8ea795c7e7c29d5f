package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

var hundred = decimal.NewFromInt(100)

// Totals are the amounts shown to the customer. Provisional totals are local
// estimates; once the server snapshot exists it is shown verbatim.
type Totals struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Shipping    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
	CouponCode  string
	Provisional bool
}

// EstimateTax returns round((subtotal - discount + shipping) × rate, 2).
func EstimateTax(subtotal, discount, shipping, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Add(shipping).Mul(rate).Round(2)
}

func (m *Machine) totalsLocked(st cart.State) Totals {
	if m.snapshot != nil {
		s := m.snapshot
		return Totals{
			Subtotal:   s.Subtotal,
			Discount:   s.Discount,
			Shipping:   s.Shipping,
			Tax:        s.Tax,
			Total:      s.Total,
			CouponCode: s.CouponCode,
		}
	}

	t := Totals{
		Subtotal:    st.Subtotal,
		Discount:    decimal.Zero,
		Shipping:    decimal.Zero,
		CouponCode:  m.couponCode,
		Provisional: true,
	}
	if m.quote != nil {
		t.Shipping = m.quote.Fee(m.method)
	}
	if e := m.eligibility; e != nil && m.couponCode != "" && st.TotalCount >= e.MinItems {
		switch {
		case e.PercentOff.IsPositive():
			t.Discount = st.Subtotal.Mul(e.PercentOff).Div(hundred).Round(2)
		case e.AmountOff.IsPositive():
			t.Discount = decimal.Min(e.AmountOff, st.Subtotal)
		}
	}
	t.Tax = EstimateTax(t.Subtotal, t.Discount, t.Shipping, m.cfg.TaxEstimateRate)
	t.Total = t.Subtotal.Sub(t.Discount).Add(t.Shipping).Add(t.Tax)
	return t
}
