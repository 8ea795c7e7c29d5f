// Command seed-db loads the demo catalog into PostgreSQL: products, stock,
// coupons and shipping rates.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/seed"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file; the embedded demo catalog when empty")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func loadCatalog(path string) (*seed.Data, error) {
	if path == "" {
		return seed.Default()
	}
	slog.Info("reading catalog file", slog.String("path", path))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	return seed.Load(raw)
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	data, err := loadCatalog(catalogFile)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, data); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), data); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedRates(ctx, postgres.NewShippingQuoter(pool), data); err != nil {
		return errors.Wrap(err, "seed shipping rates")
	}
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, data *seed.Data) error {
	products := postgres.NewProductRepository(pool)
	inventory := postgres.NewInventoryRepository(pool)

	slog.Info("upserting products", slog.Int("count", len(data.Products)))

	for _, p := range data.Products {
		if err := products.Upsert(ctx, p); err != nil {
			return err
		}
		if err := inventory.SetAvailability(ctx, p.ID, data.Stock[p.ID]); err != nil {
			return err
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("stock", data.Stock[p.ID]),
		)
	}
	return nil
}

func seedCoupons(ctx context.Context, coupons *postgres.CouponRepository, data *seed.Data) error {
	for _, c := range data.Coupons {
		if err := coupons.Upsert(ctx, c); err != nil {
			return err
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}
	return nil
}

func seedRates(ctx context.Context, quoter *postgres.ShippingQuoter, data *seed.Data) error {
	for _, r := range data.Rates {
		if err := quoter.Upsert(ctx, postgres.Rate{
			Country: r.Country,
			Regular: r.Regular,
			Express: r.Express,
			PerItem: r.PerItem,
		}); err != nil {
			return err
		}

		slog.Info("upserted shipping rate", slog.String("country", r.Country))
	}
	return nil
}
