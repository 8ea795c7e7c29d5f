package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/identity"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
	"github.com/xenking/storefront-checkout/internal/sandbox"
	"github.com/xenking/storefront-checkout/internal/session"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

type fixture struct {
	router http.Handler
	server *memory.ServerCart
	orders *memory.Orders
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := memory.NewCatalog(
		product.Product{
			ID:        "tee",
			Name:      "Tee",
			Price:     decimal.NewFromInt(10),
			Category:  "Apparel",
			StockHint: 5,
			Image:     product.Image{Thumbnail: "/img/tee-thumb.jpg", Desktop: "https://cdn.example.com/tee.jpg"},
		},
		product.Product{ID: "mug", Name: "Mug", Price: decimal.RequireFromString("7.50"), StockHint: 2},
	)
	coupons := memory.NewCoupons(coupon.Rule{
		Code:         "SAVE10",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Active:       true,
	})
	f := &fixture{
		server: memory.NewServerCart(catalog, catalog),
		orders: memory.NewOrders(),
	}

	flat := quote.Flat{Regular: decimal.NewFromInt(10), Express: decimal.NewFromInt(20)}
	svc := order.NewService(
		catalog,
		catalog,
		coupon.NewRepoValidator(coupons),
		coupons,
		flat,
		flat,
		f.orders,
		order.Config{TaxRate: decimal.RequireFromString("0.13")},
	)
	payments, err := payment.NewManager(svc, sandbox.NewProcessor(f.orders), svc, payment.Telemetry{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	registry, err := session.NewRegistry(ctx, session.Deps{
		Catalog:  catalog,
		Resolver: inventory.NewResolver(catalog),
		Server:   f.server,
		Guest:    memory.NewGuestStorage(),
		Coupons:  coupon.NewChecker(coupon.NewRepoEligibility(coupons)),
		Detailed: flat,
		Legacy:   flat,
		Payments: payments,
	}, session.Config{})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(Config{ImageBaseURL: "https://img.example.com/"}, registry, catalog).Mount(r)
	f.router = r
	return f
}

type call struct {
	method  string
	path    string
	body    any
	session string
	account string
}

func (f *fixture) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()

	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.session != "" {
		req.Header.Set(HeaderSessionID, c.session)
	}
	if c.account != "" {
		req.Header.Set(HeaderAccountID, c.account)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func validAddress() addressDTO {
	return addressDTO{
		Name:       "Ada Lovelace",
		Line1:      "1 Main St",
		City:       "Sydney",
		PostalCode: "2000",
		Country:    "au",
	}
}

func firstLineID(t *testing.T, cart map[string]any) string {
	t.Helper()
	items, ok := cart["items"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, items)
	return items[0].(map[string]any)["id"].(string)
}

func TestHandler_MissingSession(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, call{method: http.MethodGet, path: "/api/cart"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing_session", resp["reason"])
	assert.EqualValues(t, http.StatusBadRequest, resp["code"])
}

func TestHandler_Products(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var products []productResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	require.Len(t, products, 2)

	code, resp := f.do(t, call{method: http.MethodGet, path: "/api/products/tee"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10.00", resp["price"])
	image := resp["image"].(map[string]any)
	assert.Equal(t, "https://img.example.com/img/tee-thumb.jpg", image["thumbnail"])
	assert.Equal(t, "https://cdn.example.com/tee.jpg", image["desktop"])

	code, resp = f.do(t, call{method: http.MethodGet, path: "/api/products/nope"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "product_not_found", resp["reason"])
}

func TestHandler_GuestCart(t *testing.T) {
	f := newFixture(t)
	base := call{session: "sess-1"}

	with := func(method, path string, body any) call {
		c := base
		c.method, c.path, c.body = method, path, body
		return c
	}

	code, resp := f.do(t, with(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "tee", Quantity: 2}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "guest", resp["mode"])
	assert.Equal(t, "20.00", resp["subtotal"])
	assert.EqualValues(t, 2, resp["total_count"])

	// Stock of the mug is 2.
	code, resp = f.do(t, with(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "mug", Quantity: 5}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "35.00", resp["subtotal"])

	lineID := firstLineID(t, resp)
	code, resp = f.do(t, with(http.MethodPatch, "/api/cart/items/"+lineID, updateItemRequest{Quantity: 1}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "25.00", resp["subtotal"])

	code, resp = f.do(t, with(http.MethodPut, "/api/cart/drawer", drawerRequest{Open: true}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["drawer_open"])

	code, resp = f.do(t, with(http.MethodDelete, "/api/cart/items/"+lineID, nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "15.00", resp["subtotal"])

	code, resp = f.do(t, with(http.MethodDelete, "/api/cart", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.00", resp["subtotal"])
	assert.Empty(t, resp["items"])

	code, _ = f.do(t, with(http.MethodGet, "/api/cart", nil))
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_CartErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		call   call
		status int
		reason string
	}{
		{
			name:   "invalid quantity",
			call:   call{method: http.MethodPost, path: "/api/cart/items", body: addItemRequest{ProductID: "tee"}},
			status: http.StatusBadRequest,
			reason: "invalid_quantity",
		},
		{
			name:   "missing product id",
			call:   call{method: http.MethodPost, path: "/api/cart/items", body: addItemRequest{Quantity: 1}},
			status: http.StatusBadRequest,
			reason: "bad_request",
		},
		{
			name:   "unknown product",
			call:   call{method: http.MethodPost, path: "/api/cart/items", body: addItemRequest{ProductID: "nope", Quantity: 1}},
			status: http.StatusNotFound,
			reason: "product_not_found",
		},
		{
			name:   "unknown line",
			call:   call{method: http.MethodDelete, path: "/api/cart/items/missing"},
			status: http.StatusNotFound,
			reason: "line_not_found",
		},
		{
			name:   "negative quantity",
			call:   call{method: http.MethodPatch, path: "/api/cart/items/missing", body: updateItemRequest{Quantity: -1}},
			status: http.StatusBadRequest,
			reason: "bad_request",
		},
		{
			name:   "malformed body",
			call:   call{method: http.MethodPut, path: "/api/cart/drawer", body: "open"},
			status: http.StatusBadRequest,
			reason: "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.call.session = "sess-errors"
			code, resp := f.do(t, tt.call)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.reason, resp["reason"])
		})
	}
}

func TestHandler_CheckoutToPaidOrder(t *testing.T) {
	f := newFixture(t)
	with := func(method, path string, body any) call {
		return call{method: method, path: path, body: body, session: "sess-pay", account: "acct-1"}
	}

	code, _ := f.do(t, with(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "tee", Quantity: 2}))
	require.Equal(t, http.StatusOK, code)

	code, resp := f.do(t, with(http.MethodPost, "/api/checkout/advance", nil))
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "name", resp["reason"])

	code, resp = f.do(t, with(http.MethodPut, "/api/checkout/address", validAddress()))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ADDRESS", resp["phase"])
	assert.Equal(t, "AU", resp["address"].(map[string]any)["country"])

	code, _ = f.do(t, with(http.MethodPost, "/api/checkout/advance", nil))
	require.Equal(t, http.StatusOK, code)

	code, resp = f.do(t, with(http.MethodPut, "/api/checkout/shipping-method", shippingMethodRequest{Method: "drone"}))
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_shipping_method", resp["reason"])

	code, resp = f.do(t, with(http.MethodPost, "/api/checkout/advance", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PAYMENT", resp["phase"])
	require.NotNil(t, resp["authorization"])
	totals := resp["totals"].(map[string]any)
	assert.Equal(t, "33.90", totals["total"])
	assert.Equal(t, false, totals["provisional"])

	code, resp = f.do(t, with(http.MethodPost, "/api/checkout/authorize", nil))
	require.Equal(t, http.StatusOK, code)
	authID := resp["authorization"].(map[string]any)["id"].(string)

	code, resp = f.do(t, with(http.MethodPost, "/api/checkout/confirm", confirmRequest{Token: sandbox.TokenDeclined}))
	require.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "declined", resp["reason"])
	assert.Equal(t, "Your card was declined.", resp["message"])

	code, resp = f.do(t, with(http.MethodPost, "/api/checkout/confirm", confirmRequest{}))
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", resp["reason"])

	code, resp = f.do(t, with(http.MethodPost, "/api/checkout/confirm", confirmRequest{Token: sandbox.TokenVisa, HolderName: "Ada"}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["completed"])

	o, err := f.orders.FindByID(context.Background(), authID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)

	code, resp = f.do(t, with(http.MethodPut, "/api/checkout/coupon", couponRequest{Code: "SAVE10"}))
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "checkout_completed", resp["reason"])

	code, resp = f.do(t, with(http.MethodPost, "/api/checkout/restart", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ADDRESS", resp["phase"])
	assert.Equal(t, false, resp["completed"])

	code, resp = f.do(t, with(http.MethodGet, "/api/cart", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp["items"])
}

func TestHandler_CheckoutErrors(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, call{
		method:  http.MethodPut,
		path:    "/api/checkout/coupon",
		body:    couponRequest{Code: "SAVE10"},
		session: "sess-guest",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "account_required", resp["reason"])

	code, _ = f.do(t, call{method: http.MethodPut, path: "/api/checkout/address", body: validAddress(), session: "sess-guest"})
	require.Equal(t, http.StatusOK, code)

	code, resp = f.do(t, call{method: http.MethodPost, path: "/api/checkout/advance", session: "sess-guest"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "empty_cart", resp["reason"])

	code, resp = f.do(t, call{method: http.MethodPost, path: "/api/checkout/authorize", session: "sess-guest"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", resp["reason"])

	code, resp = f.do(t, call{method: http.MethodPost, path: "/api/checkout/back", body: backRequest{To: "NOWHERE"}, session: "sess-guest"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", resp["reason"])

	code, resp = f.do(t, call{method: http.MethodPost, path: "/api/checkout/confirm", body: confirmRequest{Token: "tok"}, session: "sess-guest"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "no_authorization", resp["reason"])

	code, resp = f.do(t, call{method: http.MethodPost, path: "/api/checkout/restart", session: "sess-guest"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", resp["reason"])

	code, resp = f.do(t, call{method: http.MethodGet, path: "/api/checkout", session: "sess-guest"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AU", resp["address"].(map[string]any)["country"])
}

func TestHandler_CouponRejected(t *testing.T) {
	f := newFixture(t)
	with := func(method, path string, body any) call {
		return call{method: method, path: path, body: body, session: "sess-coupon", account: "acct-2"}
	}

	code, _ := f.do(t, with(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "tee", Quantity: 1}))
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, with(http.MethodPut, "/api/checkout/address", validAddress()))
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, with(http.MethodPost, "/api/checkout/advance", nil))
	require.Equal(t, http.StatusOK, code)

	code, resp := f.do(t, with(http.MethodPut, "/api/checkout/coupon", couponRequest{Code: "BOGUS"}))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, string(coupon.ReasonInvalid), resp["reason"])

	code, resp = f.do(t, with(http.MethodPut, "/api/checkout/coupon", couponRequest{Code: "save10"}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "save10", resp["coupon_code"])
	totals := resp["totals"].(map[string]any)
	assert.Equal(t, "1.00", totals["discount"])
	assert.Equal(t, true, totals["provisional"])

	code, resp = f.do(t, with(http.MethodPost, "/api/checkout/back", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ADDRESS", resp["phase"])
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
		ok     bool
	}{
		{"coupon unavailable", &coupon.RejectionError{Code: "X", Reason: coupon.ReasonUnavailable}, http.StatusServiceUnavailable, "unavailable", true},
		{"authorization rejected", errors.Wrap(&payment.AuthorizationError{Reason: "cart is empty"}, "begin"), http.StatusUnprocessableEntity, "authorization_rejected", true},
		{"inputs changed", errors.Wrap(checkout.ErrInputsChanged, "authorize"), http.StatusConflict, "inputs_changed", true},
		{"session unavailable", &unavailableError{err: errors.New("redis down")}, http.StatusServiceUnavailable, "session_unavailable", false},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok := mapError(tt.err)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.reason, resp.Reason)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

type failingSessions struct{}

func (failingSessions) Get(context.Context, string, identity.Identity) (*session.Session, error) {
	return nil, errors.New("adopt server cart: connection refused")
}

func TestHandler_SessionUnavailable(t *testing.T) {
	r := chi.NewRouter()
	New(Config{}, failingSessions{}, memory.NewCatalog()).Mount(r)

	req := httptest.NewRequest(http.MethodGet, "/api/checkout", nil)
	req.Header.Set(HeaderSessionID, "sess-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "session_unavailable")
}
