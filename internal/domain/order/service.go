package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError indicates a line asks for more units than remain.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("only %d of %s available, %d requested", e.Available, e.ProductID, e.Requested)
}

// Products is the catalog used for pricing.
type Products interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// Redemptions records coupon use per account.
type Redemptions interface {
	Redeem(ctx context.Context, code, accountID, orderID string) error
}

// Config holds pricing parameters.
type Config struct {
	TaxRate decimal.Decimal
}

// Service prices checkouts and finalizes paid orders. It implements
// payment.Authorizer and payment.Notifier.
type Service struct {
	products    Products
	stock       inventory.Availability
	coupons     coupon.Validator
	redemptions Redemptions
	shipping    quote.Quoter
	fallback    quote.Quoter
	orders      Repository
	cfg         Config
	now         func() time.Time
}

var (
	_ payment.Authorizer = (*Service)(nil)
	_ payment.Notifier   = (*Service)(nil)
)

// NewService creates an order Service. The fallback quoter is used when the
// shipping quoter fails.
func NewService(
	products Products,
	stock inventory.Availability,
	coupons coupon.Validator,
	redemptions Redemptions,
	shipping quote.Quoter,
	fallback quote.Quoter,
	orders Repository,
	cfg Config,
) *Service {
	return &Service{
		products:    products,
		stock:       stock,
		coupons:     coupons,
		redemptions: redemptions,
		shipping:    shipping,
		fallback:    fallback,
		orders:      orders,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateAuthorization re-prices the items from the catalog, applies the
// coupon, picks the shipping fee of the chosen method, computes the tax and
// stores a pending order. Client-side prices are never trusted and lines
// exceeding the remaining stock are rejected.
func (s *Service) CreateAuthorization(ctx context.Context, in payment.Inputs) (*payment.Authorization, error) {
	if len(in.Items) == 0 {
		return nil, reject("cart is empty", ErrEmptyItems)
	}
	if err := in.Address.Validate(); err != nil {
		return nil, reject(err.Error(), err)
	}

	items, err := s.priceItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}
	if err := s.checkStock(ctx, items); err != nil {
		return nil, err
	}

	couponItems := make([]coupon.Item, len(items))
	for i, item := range items {
		couponItems[i] = coupon.Item{ProductID: item.ProductID, Price: item.UnitPrice, Quantity: item.Quantity}
	}
	subtotal := coupon.Subtotal(couponItems)

	discount := decimal.Zero
	if in.CouponCode != "" {
		d, err := s.coupons.Validate(ctx, in.CouponCode, in.AccountID, couponItems)
		switch {
		case isCouponRejection(err):
			return nil, reject(fmt.Sprintf("coupon %s", err), err)
		case err != nil:
			return nil, errors.Wrap(err, "validate coupon")
		}
		discount = d.Amount
	}

	shipping, err := s.shippingFee(ctx, in)
	if err != nil {
		return nil, err
	}

	taxable := subtotal.Sub(discount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	taxable = taxable.Add(shipping)
	tax := taxable.Mul(s.cfg.TaxRate).Round(2)

	o := &Order{
		ID:             uuid.NewString(),
		AccountID:      in.AccountID,
		Secret:         "sec_" + uuid.NewString(),
		Status:         StatusPending,
		Items:          items,
		Address:        in.Address,
		ShippingMethod: in.ShippingMethod,
		CouponCode:     in.CouponCode,
		Subtotal:       subtotal.Round(2),
		Discount:       discount.Round(2),
		Shipping:       shipping.Round(2),
		Tax:            tax,
		Total:          taxable.Add(tax).Round(2),
		CreatedAt:      s.now(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	return &payment.Authorization{
		ID:     o.ID,
		Secret: o.Secret,
		Snapshot: payment.Snapshot{
			Subtotal:   o.Subtotal,
			Discount:   o.Discount,
			Shipping:   o.Shipping,
			Tax:        o.Tax,
			Total:      o.Total,
			CouponCode: o.CouponCode,
		},
	}, nil
}

// Finalize marks the order paid and records the coupon redemption. Repeated
// calls are no-ops.
func (s *Service) Finalize(ctx context.Context, orderID string) error {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "find order")
	}

	changed, err := s.orders.MarkPaid(ctx, o.ID, s.now())
	if err != nil {
		return errors.Wrap(err, "mark paid")
	}
	if !changed || o.CouponCode == "" || o.AccountID == "" {
		return nil
	}

	if err := s.redemptions.Redeem(ctx, o.CouponCode, o.AccountID, o.ID); err != nil {
		return errors.Wrap(err, "redeem coupon")
	}
	zctx.From(ctx).Info("Coupon redeemed",
		zap.String("order_id", o.ID),
		zap.String("code", o.CouponCode),
	)
	return nil
}

func (s *Service) priceItems(ctx context.Context, lines []payment.Item) ([]Item, error) {
	ids := make([]string, len(lines))
	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, reject(fmt.Sprintf("invalid quantity for %s", line.ProductID), ErrInvalidQuantity)
		}
		ids[i] = line.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok {
			err := &ProductNotFoundError{ProductID: line.ProductID}
			return nil, reject(err.Error(), err)
		}
		items = append(items, Item{ProductID: p.ID, Quantity: line.Quantity, UnitPrice: p.Price})
	}
	return items, nil
}

func (s *Service) checkStock(ctx context.Context, items []Item) error {
	requested := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := requested[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	available, err := s.stock.Availability(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get availability")
	}
	for _, id := range ids {
		if n := available[id]; requested[id] > n {
			err := &InsufficientStockError{ProductID: id, Requested: requested[id], Available: n}
			return reject(err.Error(), err)
		}
	}
	return nil
}

func (s *Service) shippingFee(ctx context.Context, in payment.Inputs) (decimal.Decimal, error) {
	req := quote.Request{Address: in.Address, Items: make([]quote.Item, len(in.Items))}
	for i, item := range in.Items {
		req.Items[i] = quote.Item{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	q, err := s.shipping.Quote(ctx, req)
	if err != nil {
		zctx.From(ctx).Warn("Shipping rates unavailable, using flat fees", zap.Error(err))
		if q, err = s.fallback.Quote(ctx, req); err != nil {
			return decimal.Zero, errors.Wrap(err, "quote shipping")
		}
	}
	return q.Fee(in.ShippingMethod), nil
}

func isCouponRejection(err error) bool {
	for _, target := range []error{
		coupon.ErrInvalidCoupon,
		coupon.ErrCouponExpired,
		coupon.ErrCouponUsageLimitReached,
		coupon.ErrAlreadyRedeemed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func reject(reason string, err error) *payment.AuthorizationError {
	return &payment.AuthorizationError{Reason: reason, Err: err}
}
