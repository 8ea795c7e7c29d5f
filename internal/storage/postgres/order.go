package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

const (
	orderColumns = `id, account_id, secret, status, items, address, shipping_method, coupon_code,
		subtotal, discount, shipping, tax, total, created_at, paid_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderBySecretSQL = `SELECT ` + orderColumns + ` FROM orders WHERE secret = $1`

	markOrderPaidSQL = `UPDATE orders SET status = 'paid', paid_at = $2
		WHERE id = $1 AND status = 'pending'`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// addressDoc is the JSONB form of a shipping address.
type addressDoc struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Create persists a new order. Items and address are serialized to JSON for
// storage in JSONB columns.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(addressDoc(o.Address))
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.AccountID, o.Secret, string(o.Status), itemsJSON, addressJSON,
		string(o.ShippingMethod), o.CouponCode,
		o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total, o.CreatedAt, o.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// FindByID returns the order with the given id.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByIDSQL, id)
}

// FindBySecret returns the order an authorization secret was issued for.
func (r *OrderRepository) FindBySecret(ctx context.Context, secret string) (*order.Order, error) {
	return r.findOne(ctx, getOrderBySecretSQL, secret)
}

// MarkPaid moves a pending order to paid. It reports false if the order was
// already paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, markOrderPaidSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("marking order %q paid: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return false, order.ErrNotFound
	}
	return false, nil
}

func (r *OrderRepository) findOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order: %w", err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		status      string
		method      string
		itemsJSON   []byte
		addressJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.AccountID, &o.Secret, &status, &itemsJSON, &addressJSON, &method, &o.CouponCode,
		&o.Subtotal, &o.Discount, &o.Shipping, &o.Tax, &o.Total, &o.CreatedAt, &o.PaidAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.ShippingMethod = quote.Method(method)

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	var addr addressDoc
	if err := json.Unmarshal(addressJSON, &addr); err != nil {
		return o, fmt.Errorf("unmarshaling order address: %w", err)
	}
	o.Address = address.Address(addr)
	return o, nil
}
