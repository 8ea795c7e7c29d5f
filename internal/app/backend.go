package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
	"github.com/xenking/storefront-checkout/internal/sandbox"
	"github.com/xenking/storefront-checkout/internal/seed"
	"github.com/xenking/storefront-checkout/internal/session"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
	redisstore "github.com/xenking/storefront-checkout/internal/storage/redis"
	"github.com/xenking/storefront-checkout/pkg/health"
)

type catalog interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

type orders interface {
	order.Repository
	sandbox.Orders
}

// backend holds the storage collaborators of the service.
type backend struct {
	products  catalog
	inventory inventory.Availability
	carts     session.ServerCart
	coupons   coupon.Repository
	shipping  quote.Quoter
	orders    orders
	guest     cart.GuestStorage
	// pingers are registered as readiness checks.
	pingers map[string]health.Pinger
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// newBackend connects to PostgreSQL when a database URL is configured and
// falls back to in-memory storage seeded with the demo catalog otherwise.
// Guest carts go to Redis when a Redis URL is configured.
func newBackend(ctx context.Context, lg *zap.Logger, cfg *Config, flat quote.Flat) (*backend, error) {
	b := &backend{pingers: map[string]health.Pinger{}}

	if cfg.DatabaseURL != "" {
		if err := b.usePostgres(ctx, cfg.DatabaseURL); err != nil {
			b.Close()
			return nil, err
		}
		lg.Info("Using PostgreSQL backend")
	} else {
		if err := b.useMemory(flat); err != nil {
			return nil, err
		}
		lg.Warn("No database configured, using in-memory backend")
	}

	if cfg.RedisURL != "" {
		if err := b.useRedis(ctx, cfg.RedisURL, cfg.Session.GuestCartTTL); err != nil {
			b.Close()
			return nil, err
		}
		lg.Info("Storing guest carts in Redis")
	} else {
		b.guest = memory.NewGuestStorage()
	}
	return b, nil
}

func (b *backend) usePostgres(ctx context.Context, url string) error {
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	b.closers = append(b.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	b.products = postgres.NewProductRepository(pool)
	b.inventory = postgres.NewInventoryRepository(pool)
	b.carts = postgres.NewCartRepository(pool)
	b.coupons = postgres.NewCouponRepository(pool)
	b.shipping = postgres.NewShippingQuoter(pool)
	b.orders = postgres.NewOrderRepository(pool)
	b.pingers["postgres"] = pool
	return nil
}

func (b *backend) useMemory(flat quote.Flat) error {
	data, err := seed.Default()
	if err != nil {
		return errors.Wrap(err, "load demo catalog")
	}

	c := memory.NewCatalog(data.Products...)
	for id, n := range data.Stock {
		c.SetStock(id, n)
	}
	b.products = c
	b.inventory = c
	b.carts = memory.NewServerCart(c, c)
	b.coupons = memory.NewCoupons(data.Coupons...)
	b.shipping = flat
	b.orders = memory.NewOrders()
	return nil
}

func (b *backend) useRedis(ctx context.Context, url string, ttl time.Duration) error {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	client := goredis.NewClient(opts)
	b.closers = append(b.closers, func() { _ = client.Close() })

	guest := redisstore.NewGuestStorage(client, ttl)
	if err := guest.Ping(ctx); err != nil {
		return errors.Wrap(err, "ping redis")
	}
	b.guest = guest
	b.pingers["redis"] = guest
	return nil
}
