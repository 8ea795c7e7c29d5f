package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

const (
	productColumns = `id, name, price, category, weight_grams, stock_hint, image_thumbnail, image_desktop`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	getAvailabilitySQL = `SELECT product_id, available FROM inventory WHERE product_id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			category = EXCLUDED.category, weight_grams = EXCLUDED.weight_grams,
			stock_hint = EXCLUDED.stock_hint, image_thumbnail = EXCLUDED.image_thumbnail,
			image_desktop = EXCLUDED.image_desktop`

	setAvailabilitySQL = `INSERT INTO inventory (product_id, available) VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET available = EXCLUDED.available, updated_at = now()`
)

var (
	_ product.Repository     = (*ProductRepository)(nil)
	_ inventory.Availability = (*InventoryRepository)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p           product.Product
		weightGrams int32
		stockHint   int32
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Category, &weightGrams, &stockHint,
		&p.Image.Thumbnail, &p.Image.Desktop,
	)
	p.WeightGrams = int(weightGrams)
	p.StockHint = int(stockHint)
	return p, err
}

// Upsert creates or replaces a product.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.Category, p.WeightGrams, p.StockHint, p.Image.Thumbnail, p.Image.Desktop,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// InventoryRepository implements inventory.Availability backed by PostgreSQL.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// Availability returns the remaining stock of each product. Products without
// an inventory row report 0.
func (r *InventoryRepository) Availability(ctx context.Context, productIDs []string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, getAvailabilitySQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("getting availability: %w", err)
	}

	type stock struct {
		productID string
		available int32
	}
	stocks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (stock, error) {
		var s stock
		err := row.Scan(&s.productID, &s.available)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting availability: %w", err)
	}

	out := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = 0
	}
	for _, s := range stocks {
		out[s.productID] = int(s.available)
	}
	return out, nil
}

// SetAvailability sets the remaining stock of a product.
func (r *InventoryRepository) SetAvailability(ctx context.Context, productID string, available int) error {
	if _, err := r.pool.Exec(ctx, setAvailabilitySQL, productID, available); err != nil {
		return fmt.Errorf("setting availability of %q: %w", productID, err)
	}
	return nil
}
