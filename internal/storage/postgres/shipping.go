package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// anyCountry is the shipping_rates row used for countries without their own.
const anyCountry = "*"

const (
	getShippingRateSQL = `SELECT regular, express, per_item FROM shipping_rates
		WHERE country = $1 OR country = '*'
		ORDER BY (country = '*') LIMIT 1`

	getWeightsSQL = `SELECT id, weight_grams FROM products WHERE id = ANY($1)`

	upsertShippingRateSQL = `INSERT INTO shipping_rates (country, regular, express, per_item)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (country) DO UPDATE SET regular = EXCLUDED.regular,
			express = EXCLUDED.express, per_item = EXCLUDED.per_item`
)

// ErrNoShippingRate is returned for destinations without a rate.
var ErrNoShippingRate = errors.New("no shipping rate for destination")

// Rate is a shipping rate per destination country.
type Rate struct {
	Country string
	Regular decimal.Decimal
	Express decimal.Decimal
	// PerItem is charged for every unit after the first.
	PerItem decimal.Decimal
}

var _ quote.Quoter = (*ShippingQuoter)(nil)

// ShippingQuoter is the detailed quoter: fees per destination country and
// item count, with a parcel estimate from product weights.
type ShippingQuoter struct {
	pool *pgxpool.Pool
}

// NewShippingQuoter returns a ShippingQuoter that uses the given pool.
func NewShippingQuoter(pool *pgxpool.Pool) *ShippingQuoter {
	return &ShippingQuoter{pool: pool}
}

// Quote prices both shipping methods for req.
func (q *ShippingQuoter) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("no items to ship")
	}

	var rate Rate
	err := q.pool.QueryRow(ctx, getShippingRateSQL, req.Address.Country).
		Scan(&rate.Regular, &rate.Express, &rate.PerItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(ErrNoShippingRate, "%q", req.Address.Country)
		}
		return nil, fmt.Errorf("getting shipping rate: %w", err)
	}

	parcel, err := q.parcel(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	units := 0
	for _, item := range req.Items {
		units += item.Quantity
	}
	extra := rate.PerItem.Mul(decimal.NewFromInt(int64(max(units-1, 0))))
	return &quote.Quote{
		Regular: rate.Regular.Add(extra).Round(2),
		Express: rate.Express.Add(extra).Round(2),
		Parcel:  parcel,
	}, nil
}

// Upsert creates or replaces the rate of a country. Use "*" for the default.
func (q *ShippingQuoter) Upsert(ctx context.Context, rate Rate) error {
	if rate.Country == "" {
		rate.Country = anyCountry
	}
	_, err := q.pool.Exec(ctx, upsertShippingRateSQL, rate.Country, rate.Regular, rate.Express, rate.PerItem)
	if err != nil {
		return fmt.Errorf("upserting shipping rate %q: %w", rate.Country, err)
	}
	return nil
}

func (q *ShippingQuoter) parcel(ctx context.Context, items []quote.Item) (*quote.Parcel, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	rows, err := q.pool.Query(ctx, getWeightsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting product weights: %w", err)
	}
	type weight struct {
		id    string
		grams int32
	}
	weights, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (weight, error) {
		var w weight
		err := row.Scan(&w.id, &w.grams)
		return w, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting product weights: %w", err)
	}

	byID := make(map[string]int, len(weights))
	for _, w := range weights {
		byID[w.id] = int(w.grams)
	}
	total := 0
	for _, item := range items {
		total += byID[item.ProductID] * item.Quantity
	}
	return EstimateParcel(total), nil
}

// EstimateParcel picks the smallest standard box for the given weight.
func EstimateParcel(weightGrams int) *quote.Parcel {
	switch {
	case weightGrams <= 1000:
		return &quote.Parcel{WeightGrams: weightGrams, LengthCM: 20, WidthCM: 15, HeightCM: 10}
	case weightGrams <= 5000:
		return &quote.Parcel{WeightGrams: weightGrams, LengthCM: 30, WidthCM: 25, HeightCM: 15}
	default:
		return &quote.Parcel{WeightGrams: weightGrams, LengthCM: 40, WidthCM: 30, HeightCM: 30}
	}
}
