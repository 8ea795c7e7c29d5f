package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog entry. Price is the catalog list price and is only a
// display value on the client; the authorization backend re-prices every line.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	// WeightGrams feeds the parcel estimate of detailed shipping quotes.
	WeightGrams int
	// StockHint is the availability last published with the listing. Zero
	// means unknown.
	StockHint int
	Image     Image
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Desktop   string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
