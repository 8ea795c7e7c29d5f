package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/identity"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// mockCart is a cart whose contents are set by the test. Observers run
// synchronously on set.
type mockCart struct {
	mu        sync.Mutex
	state     cart.State
	observers []func(cart.State)
	cleared   int
}

func newMockCart(mode cart.Mode, items ...cart.LineItem) *mockCart {
	c := &mockCart{}
	c.state = buildState(mode, items)
	return c
}

func buildState(mode cart.Mode, items []cart.LineItem) cart.State {
	st := cart.State{Mode: mode, Items: items, Subtotal: decimal.Zero}
	for _, item := range items {
		st.Subtotal = st.Subtotal.Add(item.Total())
		st.TotalCount += item.Quantity
	}
	return st
}

func (c *mockCart) State() cart.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *mockCart) Subscribe(fn func(cart.State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
	return func() {}
}

func (c *mockCart) Clear(context.Context) {
	c.mu.Lock()
	c.cleared++
	c.mu.Unlock()
	c.set(c.State().Mode)
}

func (c *mockCart) set(mode cart.Mode, items ...cart.LineItem) {
	c.mu.Lock()
	c.state = buildState(mode, items)
	st := c.state
	observers := append([]func(cart.State){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}

func line(pid string, qty int, price string) cart.LineItem {
	return cart.LineItem{
		ID:        "line-" + pid,
		ProductID: pid,
		Name:      pid,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
	}
}

type mockIdentity struct {
	mu sync.Mutex
	id identity.Identity
}

func (m *mockIdentity) Current() identity.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

type mockSource struct {
	mu    sync.Mutex
	rules map[string]coupon.Eligibility
	err   error
	calls int
}

func (m *mockSource) Eligibility(_ context.Context, code, _ string) (*coupon.Eligibility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	e, ok := m.rules[code]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &e, nil
}

type mockQuotes struct {
	mu          sync.Mutex
	quote       quote.Quote
	err         error
	fetches     int
	invalidates int
	lastReq     quote.Request
}

func (m *mockQuotes) Fetch(_ context.Context, req quote.Request, apply func(quote.Quote)) (quote.Outcome, error) {
	m.mu.Lock()
	m.fetches++
	m.lastReq = req
	q, err := m.quote, m.err
	m.mu.Unlock()

	if err != nil {
		return quote.Failed, err
	}
	apply(q)
	return quote.Applied, nil
}

func (m *mockQuotes) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidates++
}

func (m *mockQuotes) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *mockQuotes) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// mockPayments prices every authorization at a 20.00 subtotal with 13% tax.
type mockPayments struct {
	mu         sync.Mutex
	begins     int
	confirms   int
	beginErr   error
	confirmErr error
	lastInputs payment.Inputs

	// When set, Begin and Confirm signal started and wait for release.
	beginStarted   chan struct{}
	beginRelease   chan struct{}
	confirmStarted chan struct{}
	confirmRelease chan struct{}
}

func (m *mockPayments) Begin(_ context.Context, in payment.Inputs) (*payment.Authorization, error) {
	m.mu.Lock()
	m.begins++
	n := m.begins
	m.lastInputs = in
	started, release, err := m.beginStarted, m.beginRelease, m.beginErr
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}

	shipping := decimal.NewFromInt(10)
	tax := decimal.RequireFromString("3.90")
	if in.ShippingMethod == quote.MethodExpress {
		shipping = decimal.NewFromInt(20)
		tax = decimal.RequireFromString("5.20")
	}
	subtotal := decimal.NewFromInt(20)
	return &payment.Authorization{
		ID:     fmt.Sprintf("auth-%d", n),
		Secret: fmt.Sprintf("sec_%d", n),
		Snapshot: payment.Snapshot{
			Subtotal:   subtotal,
			Discount:   decimal.Zero,
			Shipping:   shipping,
			Tax:        tax,
			Total:      subtotal.Add(shipping).Add(tax),
			CouponCode: in.CouponCode,
		},
	}, nil
}

func (m *mockPayments) Confirm(_ context.Context, _ *payment.Authorization, _ payment.Details) error {
	m.mu.Lock()
	m.confirms++
	started, release, err := m.confirmStarted, m.confirmRelease, m.confirmErr
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return err
}

func (m *mockPayments) beginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begins
}

func (m *mockPayments) confirmCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirms
}
