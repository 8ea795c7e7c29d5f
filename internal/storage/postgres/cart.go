package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

const (
	ensureCartSQL = `INSERT INTO carts (id, account_id) VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET updated_at = now()
		RETURNING id`

	getCartItemsSQL = `SELECT ci.id, ci.product_id, p.name, ci.quantity, p.price, p.stock_hint
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1 ORDER BY ci.created_at, ci.id`

	productStockSQL = `SELECT COALESCE(i.available, 0), COALESCE(ci.quantity, 0)
		FROM products p
		LEFT JOIN inventory i ON i.product_id = p.id
		LEFT JOIN cart_items ci ON ci.cart_id = $1 AND ci.product_id = p.id
		WHERE p.id = $2`

	lineStockSQL = `SELECT COALESCE(i.available, 0)
		FROM cart_items ci LEFT JOIN inventory i ON i.product_id = ci.product_id
		WHERE ci.cart_id = $1 AND ci.id = $2`

	setCartItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, quantity) VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`

	removeCartProductSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	updateCartItemSQL = `UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND id = $2`

	removeCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`

	emptyCartSQL = `DELETE FROM cart_items WHERE cart_id = (SELECT id FROM carts WHERE account_id = $1)`
)

// foreignKeyViolation is the SQLSTATE raised for an unknown product id.
const foreignKeyViolation = "23503"

var _ cart.ServerCart = (*CartRepository)(nil)

// CartRepository implements cart.ServerCart backed by PostgreSQL. Each
// account owns one cart, created on first use. Every call returns the cart
// as committed after the call.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetCart returns the account's cart.
func (r *CartRepository) GetCart(ctx context.Context, accountID string) (*cart.Snapshot, error) {
	var snap *cart.Snapshot
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		id, err := ensureCart(ctx, tx, accountID)
		if err != nil {
			return err
		}
		snap, err = loadCart(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting cart of %q: %w", accountID, err)
	}
	return snap, nil
}

// AddItem adds qty of a product, merging into an existing line of the same
// product. The line is clamped to the product's available stock.
func (r *CartRepository) AddItem(ctx context.Context, accountID, productID string, qty int) (*cart.Snapshot, error) {
	if qty <= 0 {
		return nil, cart.ErrInvalidQuantity
	}
	return r.mutate(ctx, accountID, func(tx pgx.Tx, cartID string) error {
		var available, current int32
		err := tx.QueryRow(ctx, productStockSQL, cartID, productID).Scan(&available, &current)
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("getting stock of %q: %w", productID, err)
		}

		target := inventory.Clamp(int(current)+qty, int(available))
		switch {
		case target == int(current):
			return nil
		case target == 0:
			_, err = tx.Exec(ctx, removeCartProductSQL, cartID, productID)
		default:
			_, err = tx.Exec(ctx, setCartItemSQL, uuid.NewString(), cartID, productID, target)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return product.ErrNotFound
		}
		return err
	})
}

// UpdateItem sets the quantity of a line, clamped to the available stock. A
// line whose product ran out of stock is removed.
func (r *CartRepository) UpdateItem(ctx context.Context, accountID, lineID string, qty int) (*cart.Snapshot, error) {
	if qty <= 0 {
		return nil, cart.ErrInvalidQuantity
	}
	return r.mutate(ctx, accountID, func(tx pgx.Tx, cartID string) error {
		var available int32
		err := tx.QueryRow(ctx, lineStockSQL, cartID, lineID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.ErrLineNotFound
		}
		if err != nil {
			return fmt.Errorf("getting stock of line %q: %w", lineID, err)
		}

		if qty = inventory.Clamp(qty, int(available)); qty == 0 {
			_, err = tx.Exec(ctx, removeCartItemSQL, cartID, lineID)
			return err
		}
		_, err = tx.Exec(ctx, updateCartItemSQL, cartID, lineID, qty)
		return err
	})
}

// RemoveItem deletes a line.
func (r *CartRepository) RemoveItem(ctx context.Context, accountID, lineID string) (*cart.Snapshot, error) {
	return r.mutate(ctx, accountID, func(tx pgx.Tx, cartID string) error {
		tag, err := tx.Exec(ctx, removeCartItemSQL, cartID, lineID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrLineNotFound
		}
		return nil
	})
}

// Empty removes every line of the account's cart.
func (r *CartRepository) Empty(ctx context.Context, accountID string) error {
	if _, err := r.pool.Exec(ctx, emptyCartSQL, accountID); err != nil {
		return fmt.Errorf("emptying cart of %q: %w", accountID, err)
	}
	return nil
}

func (r *CartRepository) mutate(ctx context.Context, accountID string, fn func(tx pgx.Tx, cartID string) error) (*cart.Snapshot, error) {
	var snap *cart.Snapshot
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		id, err := ensureCart(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := fn(tx, id); err != nil {
			return err
		}
		snap, err = loadCart(ctx, tx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, cart.ErrLineNotFound) || errors.Is(err, product.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating cart of %q: %w", accountID, err)
	}
	return snap, nil
}

func ensureCart(ctx context.Context, tx pgx.Tx, accountID string) (string, error) {
	var id string
	if err := tx.QueryRow(ctx, ensureCartSQL, uuid.NewString(), accountID).Scan(&id); err != nil {
		return "", fmt.Errorf("ensuring cart: %w", err)
	}
	return id, nil
}

func loadCart(ctx context.Context, tx pgx.Tx, cartID string) (*cart.Snapshot, error) {
	rows, err := tx.Query(ctx, getCartItemsSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("loading cart items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("loading cart items: %w", err)
	}
	return &cart.Snapshot{ID: cartID, Items: items}, nil
}

func scanCartItem(row pgx.CollectableRow) (cart.LineItem, error) {
	var (
		item      cart.LineItem
		quantity  int32
		stockHint int32
	)
	err := row.Scan(&item.ID, &item.ProductID, &item.Name, &quantity, &item.UnitPrice, &stockHint)
	item.Quantity = int(quantity)
	item.StockHint = int(stockHint)
	return item, err
}
