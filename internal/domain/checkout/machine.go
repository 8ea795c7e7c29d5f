package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// Machine is the checkout state machine of one session.
//
// Any change to address, coupon, shipping method or cart contents drops the
// payment authorization and the server snapshot, and bumps the input
// generation so that authorizations requested for older inputs are discarded
// on arrival.
type Machine struct {
	deps Deps
	cfg  Config

	baseCtx context.Context
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
	sf      singleflight.Group

	mu          sync.Mutex
	phase       Phase
	addr        address.Address
	couponCode  string
	eligibility *coupon.Eligibility
	method      quote.Method
	quote       *quote.Quote
	snapshot    *payment.Snapshot
	auth        *payment.Authorization
	inputsGen   uint64
	cartSig     string
	confirming  bool
	completed   bool
	closed      bool
	notice      string
	pending     int
	slow        bool
	slowEpoch   uint64
	slowTimer   *time.Timer
}

// NewMachine creates a Machine and subscribes it to cart changes. Background
// work triggered by cart changes runs under ctx until Close.
func NewMachine(ctx context.Context, deps Deps, cfg Config) *Machine {
	if cfg.SlowNoticeAfter <= 0 {
		cfg.SlowNoticeAfter = defaultSlowNoticeAfter
	}
	baseCtx, cancel := context.WithCancel(ctx)

	m := &Machine{
		deps:    deps,
		cfg:     cfg,
		baseCtx: baseCtx,
		cancel:  cancel,
		phase:   PhaseAddress,
		method:  quote.MethodRegular,
		cartSig: signature(deps.Cart.State()),
	}
	m.unsub = deps.Cart.Subscribe(m.onCartChange)
	return m
}

// Close stops background work and unsubscribes from the cart.
func (m *Machine) Close() {
	m.unsub()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

// Session returns the current checkout view.
func (m *Machine) Session() Session {
	st := m.deps.Cart.State()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Session{
		Phase:          m.phase,
		Address:        m.addr,
		CouponCode:     m.couponCode,
		ShippingMethod: m.method,
		Quote:          clonePtr(m.quote),
		Snapshot:       clonePtr(m.snapshot),
		Authorization:  clonePtr(m.auth),
		Completed:      m.completed,
		Notice:         m.notice,
		Slow:           m.slow,
		Totals:         m.totalsLocked(st),
	}
}

// Totals returns the amounts to display.
func (m *Machine) Totals() Totals {
	st := m.deps.Cart.State()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalsLocked(st)
}

// SetAddress replaces the shipping address. Past the address phase the new
// address must be valid and a new quote is requested.
func (m *Machine) SetAddress(ctx context.Context, a address.Address) error {
	a = a.Normalize()

	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if a == m.addr {
		m.mu.Unlock()
		return nil
	}
	if m.phase != PhaseAddress {
		if err := a.Validate(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.addr = a
	m.invalidatePaymentLocked()
	requote := m.phase != PhaseAddress
	m.mu.Unlock()

	if requote {
		m.requote(ctx)
	}
	return nil
}

// SetCoupon replaces the coupon code; an empty code removes it. Guests cannot
// enter coupons. Past the address phase the new code is checked first and a
// rejected code leaves the checkout unchanged.
func (m *Machine) SetCoupon(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	id := m.deps.Identity.Current()
	if code != "" && id.IsGuest() {
		return ErrCouponRequiresAccount
	}

	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if strings.EqualFold(code, m.couponCode) {
		m.mu.Unlock()
		return nil
	}
	if code == "" || m.phase == PhaseAddress {
		m.couponCode = code
		m.eligibility = nil
		m.invalidatePaymentLocked()
		m.mu.Unlock()
		return nil
	}
	gen := m.inputsGen
	m.mu.Unlock()

	e, err := m.checkCoupon(ctx, code, id.AccountID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.inputsGen {
		return ErrInputsChanged
	}
	m.couponCode = code
	m.eligibility = e
	m.invalidatePaymentLocked()
	return nil
}

// SetShippingMethod selects the shipping method. It only changes which cached
// fee is shown; no quote is requested.
func (m *Machine) SetShippingMethod(method quote.Method) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.editableLocked(); err != nil {
		return err
	}
	if method != quote.MethodRegular && method != quote.MethodExpress {
		return errors.Wrapf(quote.ErrUnknownMethod, "%q", method)
	}
	if method == m.method {
		return nil
	}
	m.method = method
	m.invalidatePaymentLocked()
	return nil
}

// Advance moves to the next phase if its exit guard holds.
func (m *Machine) Advance(ctx context.Context) error {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	phase := m.phase
	m.mu.Unlock()

	switch phase {
	case PhaseAddress:
		return m.leaveAddress(ctx)
	case PhaseShipping:
		return m.leaveShipping(ctx)
	default:
		return errors.Wrap(ErrInvalidTransition, "payment is the last phase")
	}
}

func (m *Machine) leaveAddress(ctx context.Context) error {
	st := m.deps.Cart.State()
	id := m.deps.Identity.Current()

	m.mu.Lock()
	if err := m.addr.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	if st.IsEmpty() {
		m.notice = NoticeEmptyCart
		m.mu.Unlock()
		return ErrEmptyCart
	}
	code := m.couponCode
	gen := m.inputsGen
	m.mu.Unlock()

	var e *coupon.Eligibility
	if code != "" {
		if id.IsGuest() {
			return ErrCouponRequiresAccount
		}
		var err error
		if e, err = m.checkCoupon(ctx, code, id.AccountID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if gen != m.inputsGen || m.phase != PhaseAddress {
		m.mu.Unlock()
		return ErrInputsChanged
	}
	m.eligibility = e
	m.phase = PhaseShipping
	m.notice = ""
	m.mu.Unlock()

	m.requote(ctx)
	return nil
}

func (m *Machine) leaveShipping(ctx context.Context) error {
	if m.deps.Cart.State().IsEmpty() {
		m.forceAddress(NoticeEmptyCart)
		return ErrEmptyCart
	}
	_, err := m.authorize(ctx, PhaseShipping)
	return err
}

// Authorize returns the live authorization, requesting a new one in the
// payment phase when the previous one was invalidated. Concurrent calls for
// the same inputs share one request.
func (m *Machine) Authorize(ctx context.Context) (*payment.Authorization, error) {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.phase != PhasePayment {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrInvalidTransition, "authorize in %s", m.phase)
	}
	if m.auth != nil {
		auth := *m.auth
		m.mu.Unlock()
		return &auth, nil
	}
	m.mu.Unlock()

	if m.deps.Cart.State().IsEmpty() {
		m.forceAddress(NoticeEmptyCart)
		return nil, ErrEmptyCart
	}
	return m.authorize(ctx, PhasePayment)
}

// authorize requests an authorization for the current inputs and, if the
// inputs did not change meanwhile, stores it and enters the payment phase.
func (m *Machine) authorize(ctx context.Context, from Phase) (*payment.Authorization, error) {
	st := m.deps.Cart.State()
	id := m.deps.Identity.Current()

	m.mu.Lock()
	if m.phase != from {
		m.mu.Unlock()
		return nil, ErrInputsChanged
	}
	gen := m.inputsGen
	in := payment.Inputs{
		AccountID:      id.AccountID,
		Address:        m.addr,
		ShippingMethod: m.method,
		CouponCode:     m.couponCode,
		Items:          paymentItems(st),
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		done := m.track()
		defer done()
		return m.deps.Payments.Begin(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	auth := *v.(*payment.Authorization)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.inputsGen || (m.phase != from && m.phase != PhasePayment) {
		zctx.From(ctx).Info("Discard authorization for outdated inputs",
			zap.String("authorization_id", auth.ID),
		)
		return nil, ErrInputsChanged
	}
	snap := auth.Snapshot
	m.auth = &auth
	m.snapshot = &snap
	m.phase = PhasePayment
	m.notice = ""
	out := auth
	return &out, nil
}

// Confirm pays the live authorization. A failure keeps the authorization and
// the phase so the customer can retry with other payment details.
func (m *Machine) Confirm(ctx context.Context, details payment.Details) error {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.phase != PhasePayment || m.auth == nil {
		m.mu.Unlock()
		return ErrNoAuthorization
	}
	auth := *m.auth
	m.confirming = true
	m.mu.Unlock()

	done := m.track()
	err := m.deps.Payments.Confirm(ctx, &auth, details)
	done()

	m.mu.Lock()
	m.confirming = false
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.completed = true
	m.notice = ""
	m.mu.Unlock()

	m.deps.Cart.Clear(ctx)
	if m.deps.OnComplete != nil {
		m.deps.OnComplete(ctx)
	}
	return nil
}

// Back returns to the previous phase.
func (m *Machine) Back(ctx context.Context) error {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()

	switch phase {
	case PhasePayment:
		return m.BackTo(ctx, PhaseShipping)
	case PhaseShipping:
		return m.BackTo(ctx, PhaseAddress)
	default:
		return errors.Wrap(ErrInvalidTransition, "already at the first phase")
	}
}

// BackTo returns to an earlier phase, dropping everything computed in the
// phases being left.
func (m *Machine) BackTo(_ context.Context, target Phase) error {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if target.rank() >= m.phase.rank() {
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", m.phase, target)
	}
	dropQuote := m.leaveToLocked(target)
	m.mu.Unlock()

	if dropQuote {
		m.deps.Quotes.Invalidate()
	}
	return nil
}

// Restart begins a new checkout after a completed one. The address is kept.
// It fails while a confirmation is in flight and before the checkout completed.
func (m *Machine) Restart() error {
	sig := signature(m.deps.Cart.State())

	m.mu.Lock()
	switch {
	case m.confirming:
		m.mu.Unlock()
		return ErrConfirmInProgress
	case !m.completed:
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.phase = PhaseAddress
	m.cartSig = sig
	m.couponCode = ""
	m.eligibility = nil
	m.method = quote.MethodRegular
	m.quote = nil
	m.completed = false
	m.notice = ""
	m.invalidatePaymentLocked()
	m.mu.Unlock()

	m.deps.Quotes.Invalidate()
	return nil
}

// leaveToLocked reports whether the quote was dropped.
func (m *Machine) leaveToLocked(target Phase) bool {
	m.invalidatePaymentLocked()
	dropQuote := false
	if target == PhaseAddress && m.phase != PhaseAddress {
		m.quote = nil
		dropQuote = true
	}
	m.phase = target
	return dropQuote
}

func (m *Machine) forceAddress(notice string) {
	m.mu.Lock()
	dropQuote := m.leaveToLocked(PhaseAddress)
	m.notice = notice
	m.mu.Unlock()

	if dropQuote {
		m.deps.Quotes.Invalidate()
	}
}

func (m *Machine) editableLocked() error {
	switch {
	case m.completed:
		return ErrCheckoutCompleted
	case m.confirming:
		return ErrConfirmInProgress
	default:
		return nil
	}
}

func (m *Machine) invalidatePaymentLocked() {
	m.inputsGen++
	m.auth = nil
	m.snapshot = nil
}

func (m *Machine) checkCoupon(ctx context.Context, code, accountID string) (*coupon.Eligibility, error) {
	done := m.track()
	defer done()
	return m.deps.Coupons.Check(ctx, code, accountID)
}

// requote fetches a quote for the current address and cart, unless the
// checkout is back at the address phase. Failures keep the previous fees and
// only raise a notice.
func (m *Machine) requote(ctx context.Context) {
	st := m.deps.Cart.State()

	m.mu.Lock()
	if m.phase == PhaseAddress || m.completed || st.IsEmpty() {
		m.mu.Unlock()
		return
	}
	req := quote.Request{Address: m.addr, Items: quoteItems(st)}
	m.mu.Unlock()

	done := m.track()
	outcome, err := m.deps.Quotes.Fetch(ctx, req, func(q quote.Quote) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.phase == PhaseAddress {
			return
		}
		m.quote = &q
		if m.notice == NoticeQuoteUnavailable {
			m.notice = ""
		}
	})
	done()

	if outcome == quote.Failed {
		zctx.From(ctx).Warn("Quote unavailable, keeping previous fees", zap.Error(err))
		m.mu.Lock()
		m.notice = NoticeQuoteUnavailable
		m.mu.Unlock()
	}
}

// onCartChange reacts to cart content changes: an emptied cart sends the
// checkout back to the address phase, any other change drops the payment
// authorization and requests a new quote.
func (m *Machine) onCartChange(st cart.State) {
	sig := signature(st)

	m.mu.Lock()
	if m.completed || m.confirming {
		m.mu.Unlock()
		return
	}
	if st.Mode == cart.ModeGuest && m.couponCode != "" {
		m.couponCode = ""
		m.eligibility = nil
		m.invalidatePaymentLocked()
	}
	if sig == m.cartSig {
		m.mu.Unlock()
		return
	}
	m.cartSig = sig
	if m.phase == PhaseAddress {
		m.mu.Unlock()
		return
	}
	if st.IsEmpty() {
		dropQuote := m.leaveToLocked(PhaseAddress)
		m.notice = NoticeEmptyCart
		m.mu.Unlock()
		if dropQuote {
			m.deps.Quotes.Invalidate()
		}
		return
	}
	m.invalidatePaymentLocked()
	// Add runs under mu so it cannot race Close's Wait.
	if m.closed || m.baseCtx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.requote(m.baseCtx)
	}()
}

// track marks a collaborator call as outstanding and raises the slow notice
// if calls stay outstanding past SlowNoticeAfter.
func (m *Machine) track() (done func()) {
	m.mu.Lock()
	m.pending++
	if m.pending == 1 {
		m.slowEpoch++
		epoch := m.slowEpoch
		m.slowTimer = time.AfterFunc(m.cfg.SlowNoticeAfter, func() {
			m.mu.Lock()
			if m.pending > 0 && m.slowEpoch == epoch {
				m.slow = true
			}
			m.mu.Unlock()
		})
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.pending--
			if m.pending == 0 {
				m.slowTimer.Stop()
				m.slow = false
			}
		})
	}
}

func signature(st cart.State) string {
	var b strings.Builder
	b.WriteString(string(st.Mode))
	for _, item := range st.Items {
		fmt.Fprintf(&b, "|%s:%d", item.ProductID, item.Quantity)
	}
	return b.String()
}

func paymentItems(st cart.State) []payment.Item {
	items := make([]payment.Item, 0, len(st.Items))
	for _, item := range st.Items {
		items = append(items, payment.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}

func quoteItems(st cart.State) []quote.Item {
	items := make([]quote.Item, 0, len(st.Items))
	for _, item := range st.Items {
		items = append(items, quote.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
