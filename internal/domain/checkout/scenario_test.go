package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/identity"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
	"github.com/xenking/storefront-checkout/internal/sandbox"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

type session struct {
	catalog *memory.Catalog
	server  *memory.ServerCart
	coupons *memory.Coupons
	orders  *memory.Orders
	tracker *identity.Tracker
	store   *cart.Store
	machine *checkout.Machine
}

func newSession(t *testing.T) *session {
	t.Helper()

	s := &session{
		catalog: memory.NewCatalog(
			product.Product{ID: "tee", Name: "Tee", Price: decimal.NewFromInt(10), StockHint: 5},
			product.Product{ID: "mug", Name: "Mug", Price: decimal.RequireFromString("7.50"), StockHint: 2},
		),
		coupons: memory.NewCoupons(coupon.Rule{
			Code:         "SAVE10",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Active:       true,
		}),
		orders:  memory.NewOrders(),
		tracker: identity.NewTracker(identity.Guest()),
	}
	s.server = memory.NewServerCart(s.catalog, s.catalog)

	s.store = cart.NewStore("sess-1", identity.Guest(), cart.Deps{
		Resolver: inventory.NewResolver(s.catalog),
		Catalog:  s.catalog,
		Server:   s.server,
		Guest:    memory.NewGuestStorage(),
	}, cart.Options{})
	require.NoError(t, s.tracker.Bind(cart.NewReconciler(s.store).Handle))

	flat := quote.Flat{Regular: decimal.NewFromInt(10), Express: decimal.NewFromInt(20)}
	fetcher, err := quote.NewFetcher(flat, flat, quote.Options{})
	require.NoError(t, err)

	svc := order.NewService(
		s.catalog,
		s.catalog,
		coupon.NewRepoValidator(s.coupons),
		s.coupons,
		flat,
		flat,
		s.orders,
		order.Config{TaxRate: decimal.RequireFromString("0.13")},
	)
	payments, err := payment.NewManager(svc, sandbox.NewProcessor(s.orders), svc, payment.Telemetry{})
	require.NoError(t, err)

	s.machine = checkout.NewMachine(context.Background(), checkout.Deps{
		Cart:     s.store,
		Identity: s.tracker,
		Coupons:  coupon.NewChecker(coupon.NewRepoEligibility(s.coupons)),
		Quotes:   fetcher,
		Payments: payments,
		OnComplete: func(ctx context.Context) {
			if id := s.tracker.Current(); !id.IsGuest() {
				require.NoError(t, s.server.Empty(ctx, id.AccountID))
			}
			s.tracker.Reset()
		},
	}, checkout.Config{
		SlowNoticeAfter: time.Hour,
		TaxEstimateRate: decimal.RequireFromString("0.13"),
	})
	t.Cleanup(s.machine.Close)
	return s
}

func shippingAddress() address.Address {
	return address.Address{
		Name:       "Ada Lovelace",
		Line1:      "1 Main St",
		City:       "Sydney",
		PostalCode: "2000",
		Country:    "au",
	}
}

func requireAmounts(t *testing.T, snap payment.Snapshot, subtotal, discount, shipping, tax, total string) {
	t.Helper()
	d := decimal.RequireFromString
	assert.True(t, d(subtotal).Equal(snap.Subtotal), "subtotal %s", snap.Subtotal)
	assert.True(t, d(discount).Equal(snap.Discount), "discount %s", snap.Discount)
	assert.True(t, d(shipping).Equal(snap.Shipping), "shipping %s", snap.Shipping)
	assert.True(t, d(tax).Equal(snap.Tax), "tax %s", snap.Tax)
	assert.True(t, d(total).Equal(snap.Total), "total %s", snap.Total)
}

func TestCheckout_GuestToPaidOrder(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	require.NoError(t, s.store.Add(ctx, "tee", 2, nil))
	require.Equal(t, cart.ModeGuest, s.store.State().Mode)

	require.NoError(t, s.tracker.Observe(ctx, identity.Account("acc-1")))
	st := s.store.State()
	require.Equal(t, cart.ModeIdentified, st.Mode)
	require.Len(t, st.Items, 1)
	assert.Equal(t, 2, st.Items[0].Quantity)

	require.NoError(t, s.machine.SetAddress(ctx, shippingAddress()))
	require.NoError(t, s.machine.Advance(ctx))
	require.NoError(t, s.machine.Advance(ctx))

	sess := s.machine.Session()
	require.Equal(t, checkout.PhasePayment, sess.Phase)
	require.NotNil(t, sess.Authorization)
	requireAmounts(t, sess.Authorization.Snapshot, "20.00", "0", "10", "3.90", "33.90")
	first := sess.Authorization.ID

	require.NoError(t, s.machine.SetShippingMethod(quote.MethodExpress))
	require.ErrorIs(t, s.machine.Confirm(ctx, payment.Details{Token: sandbox.TokenVisa}), checkout.ErrNoAuthorization)

	auth, err := s.machine.Authorize(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, auth.ID)
	requireAmounts(t, auth.Snapshot, "20.00", "0", "20", "5.20", "45.20")

	totals := s.machine.Totals()
	assert.False(t, totals.Provisional)
	assert.True(t, auth.Snapshot.Total.Equal(totals.Total))

	err = s.machine.Confirm(ctx, payment.Details{Token: sandbox.TokenDeclined})
	var declined *payment.DeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Equal(t, "Your card was declined.", declined.Message)

	require.NoError(t, s.machine.Confirm(ctx, payment.Details{Token: sandbox.TokenVisa}))
	assert.True(t, s.machine.Session().Completed)
	assert.True(t, s.store.State().IsEmpty())

	paid, err := s.orders.FindByID(ctx, auth.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	abandoned, err := s.orders.FindByID(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, abandoned.Status)

	require.NoError(t, s.tracker.Observe(ctx, identity.Account("acc-1")))
	assert.True(t, s.store.State().IsEmpty(), "server cart emptied after purchase")
	assert.Equal(t, cart.ModeIdentified, s.store.State().Mode)
}

func TestCheckout_CouponRedeemedOnce(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	require.NoError(t, s.tracker.Observe(ctx, identity.Account("acc-1")))
	require.NoError(t, s.store.Add(ctx, "tee", 2, nil))
	require.NoError(t, s.machine.SetCoupon(ctx, "SAVE10"))
	require.NoError(t, s.machine.SetAddress(ctx, shippingAddress()))
	require.NoError(t, s.machine.Advance(ctx))

	totals := s.machine.Totals()
	assert.True(t, totals.Provisional)
	assert.True(t, decimal.RequireFromString("31.64").Equal(totals.Total), "total %s", totals.Total)

	require.NoError(t, s.machine.Advance(ctx))
	auth, err := s.machine.Authorize(ctx)
	require.NoError(t, err)
	requireAmounts(t, auth.Snapshot, "20.00", "2.00", "10", "3.64", "31.64")
	require.NoError(t, s.machine.Confirm(ctx, payment.Details{Token: sandbox.TokenVisa}))

	used, err := s.coupons.IsRedeemed(ctx, "SAVE10", "acc-1")
	require.NoError(t, err)
	assert.True(t, used)

	require.NoError(t, s.machine.Restart())
	require.NoError(t, s.tracker.Observe(ctx, identity.Account("acc-1")))
	require.NoError(t, s.store.Add(ctx, "mug", 1, nil))
	require.NoError(t, s.machine.SetCoupon(ctx, "SAVE10"))

	err = s.machine.Advance(ctx)
	var rejection *coupon.RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, coupon.ReasonAlreadyUsed, rejection.Reason)
}

func TestCheckout_StockClampAndEmptyCart(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	require.NoError(t, s.store.Add(ctx, "mug", 5, nil))
	st := s.store.State()
	require.Len(t, st.Items, 1)
	assert.Equal(t, 2, st.Items[0].Quantity)

	require.NoError(t, s.machine.SetAddress(ctx, shippingAddress()))
	require.NoError(t, s.machine.Advance(ctx))
	require.NoError(t, s.store.Remove(ctx, st.Items[0].ID))

	sess := s.machine.Session()
	assert.Equal(t, checkout.PhaseAddress, sess.Phase)
	assert.Equal(t, checkout.NoticeEmptyCart, sess.Notice)
}
