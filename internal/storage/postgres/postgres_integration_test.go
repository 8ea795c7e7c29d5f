//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

const seedSQL = `
INSERT INTO products (id, name, price, category, weight_grams, stock_hint) VALUES
	('tee', 'Tee', 10.00, 'apparel', 200, 5),
	('mug', 'Mug', 7.50, 'kitchen', 400, 0);
INSERT INTO inventory (product_id, available) VALUES ('tee', 5);
`

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("storefront"),
		tcpostgres.WithPassword("storefront"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, RunMigrations(ctx, pool), "migrations are idempotent")
	_, err = pool.Exec(ctx, seedSQL)
	require.NoError(t, err)
	return pool
}

func TestPostgres(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	t.Run("products", func(t *testing.T) {
		repo := NewProductRepository(pool)

		p, err := repo.GetByID(ctx, "tee")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("10.00").Equal(p.Price))
		assert.Equal(t, 200, p.WeightGrams)
		assert.Equal(t, 5, p.StockHint)

		_, err = repo.GetByID(ctx, "nope")
		require.ErrorIs(t, err, product.ErrNotFound)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("inventory", func(t *testing.T) {
		avail, err := NewInventoryRepository(pool).Availability(ctx, []string{"tee", "mug"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"tee": 5, "mug": 0}, avail)
	})

	t.Run("upsert product and stock", func(t *testing.T) {
		products := NewProductRepository(pool)
		inv := NewInventoryRepository(pool)

		require.NoError(t, products.Upsert(ctx, product.Product{
			ID:          "cap",
			Name:        "Cap",
			Price:       decimal.RequireFromString("12.00"),
			WeightGrams: 150,
			Image:       product.Image{Thumbnail: "/img/cap.jpg"},
		}))
		require.NoError(t, inv.SetAvailability(ctx, "cap", 4))
		require.NoError(t, inv.SetAvailability(ctx, "cap", 3))

		p, err := products.GetByID(ctx, "cap")
		require.NoError(t, err)
		assert.Equal(t, "/img/cap.jpg", p.Image.Thumbnail)

		avail, err := inv.Availability(ctx, []string{"cap"})
		require.NoError(t, err)
		assert.Equal(t, 3, avail["cap"])

		_, err = pool.Exec(ctx, `DELETE FROM products WHERE id = 'cap'`)
		require.NoError(t, err)
	})

	t.Run("cart", func(t *testing.T) {
		repo := NewCartRepository(pool)

		snap, err := repo.AddItem(ctx, "acc-1", "tee", 1)
		require.NoError(t, err)
		snap, err = repo.AddItem(ctx, "acc-1", "tee", 2)
		require.NoError(t, err)
		require.Len(t, snap.Items, 1)
		assert.Equal(t, 3, snap.Items[0].Quantity)
		assert.Equal(t, "Tee", snap.Items[0].Name)

		_, err = repo.AddItem(ctx, "acc-1", "nope", 1)
		require.ErrorIs(t, err, product.ErrNotFound)

		lineID := snap.Items[0].ID
		snap, err = repo.UpdateItem(ctx, "acc-1", lineID, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Items[0].Quantity)

		_, err = repo.UpdateItem(ctx, "acc-2", lineID, 1)
		require.ErrorIs(t, err, cart.ErrLineNotFound)

		snap, err = repo.RemoveItem(ctx, "acc-1", lineID)
		require.NoError(t, err)
		assert.Empty(t, snap.Items)

		_, err = repo.AddItem(ctx, "acc-1", "mug", 1)
		require.NoError(t, err)
		require.NoError(t, repo.Empty(ctx, "acc-1"))
		got, err := repo.GetCart(ctx, "acc-1")
		require.NoError(t, err)
		assert.Empty(t, got.Items)
		assert.Equal(t, snap.ID, got.ID)
	})

	t.Run("cart clamps to stock", func(t *testing.T) {
		repo := NewCartRepository(pool)
		inv := NewInventoryRepository(pool)
		t.Cleanup(func() {
			_ = repo.Empty(ctx, "acc-stock")
			_ = inv.SetAvailability(ctx, "tee", 5)
		})

		snap, err := repo.AddItem(ctx, "acc-stock", "tee", 100)
		require.NoError(t, err)
		require.Len(t, snap.Items, 1)
		assert.Equal(t, 5, snap.Items[0].Quantity)

		snap, err = repo.AddItem(ctx, "acc-stock", "mug", 1)
		require.NoError(t, err)
		require.Len(t, snap.Items, 1, "mug has no stock")

		lineID := snap.Items[0].ID
		require.NoError(t, inv.SetAvailability(ctx, "tee", 2))
		snap, err = repo.UpdateItem(ctx, "acc-stock", lineID, 4)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Items[0].Quantity)

		require.NoError(t, inv.SetAvailability(ctx, "tee", 0))
		snap, err = repo.UpdateItem(ctx, "acc-stock", lineID, 1)
		require.NoError(t, err)
		assert.Empty(t, snap.Items)
	})

	t.Run("coupons", func(t *testing.T) {
		repo := NewCouponRepository(pool)
		require.NoError(t, repo.Upsert(ctx, coupon.Rule{
			Code:         "SAVE10",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Active:       true,
		}))

		rule, err := repo.FindByCode(ctx, "save10")
		require.NoError(t, err)
		assert.Equal(t, coupon.DiscountPercentage, rule.DiscountType)
		assert.True(t, rule.Active)

		_, err = repo.FindByCode(ctx, "NOPE")
		require.ErrorIs(t, err, coupon.ErrInvalidCoupon)

		require.NoError(t, repo.Redeem(ctx, "save10", "acc-1", "ord-1"))
		require.ErrorIs(t, repo.Redeem(ctx, "SAVE10", "acc-1", "ord-2"), coupon.ErrAlreadyRedeemed)

		used, err := repo.IsRedeemed(ctx, "SAVE10", "acc-1")
		require.NoError(t, err)
		assert.True(t, used)

		rule, err = repo.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, 1, rule.Uses)
	})

	t.Run("shipping", func(t *testing.T) {
		q := NewShippingQuoter(pool)
		_, err := q.Quote(ctx, quote.Request{
			Address: address.Address{Country: "AU"},
			Items:   []quote.Item{{ProductID: "tee", Quantity: 1}},
		})
		require.ErrorIs(t, err, ErrNoShippingRate)

		require.NoError(t, q.Upsert(ctx, Rate{Country: "*", Regular: decimal.NewFromInt(10), Express: decimal.NewFromInt(20)}))
		require.NoError(t, q.Upsert(ctx, Rate{
			Country: "AU",
			Regular: decimal.NewFromInt(8),
			Express: decimal.NewFromInt(15),
			PerItem: decimal.RequireFromString("1.50"),
		}))

		got, err := q.Quote(ctx, quote.Request{
			Address: address.Address{Country: "AU"},
			Items:   []quote.Item{{ProductID: "tee", Quantity: 2}, {ProductID: "mug", Quantity: 1}},
		})
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("11.00").Equal(got.Regular))
		assert.True(t, decimal.RequireFromString("18.00").Equal(got.Express))
		require.NotNil(t, got.Parcel)
		assert.Equal(t, 800, got.Parcel.WeightGrams)

		got, err = q.Quote(ctx, quote.Request{
			Address: address.Address{Country: "NZ"},
			Items:   []quote.Item{{ProductID: "tee", Quantity: 1}},
		})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(10).Equal(got.Regular))
	})

	t.Run("orders", func(t *testing.T) {
		repo := NewOrderRepository(pool)
		o := &order.Order{
			ID:             "ord-1",
			AccountID:      "acc-1",
			Secret:         "sec_1",
			Status:         order.StatusPending,
			Items:          []order.Item{{ProductID: "tee", Quantity: 2, UnitPrice: decimal.NewFromInt(10)}},
			Address:        address.Address{Name: "Ada", Line1: "1 Main St", City: "Sydney", PostalCode: "2000", Country: "AU"},
			ShippingMethod: quote.MethodRegular,
			Subtotal:       decimal.NewFromInt(20),
			Discount:       decimal.Zero,
			Shipping:       decimal.NewFromInt(10),
			Tax:            decimal.RequireFromString("3.90"),
			Total:          decimal.RequireFromString("33.90"),
			CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, repo.Create(ctx, o))

		got, err := repo.FindBySecret(ctx, "sec_1")
		require.NoError(t, err)
		assert.Equal(t, o.Address, got.Address)
		assert.Equal(t, order.StatusPending, got.Status)
		require.Len(t, got.Items, 1)
		assert.True(t, decimal.RequireFromString("33.90").Equal(got.Total))

		changed, err := repo.MarkPaid(ctx, "ord-1", time.Now())
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = repo.MarkPaid(ctx, "ord-1", time.Now())
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = repo.MarkPaid(ctx, "ord-x", time.Now())
		require.ErrorIs(t, err, order.ErrNotFound)
		_, err = repo.FindByID(ctx, "ord-x")
		require.ErrorIs(t, err, order.ErrNotFound)
	})
}
