// Package redis stores guest carts in Redis so they survive BFF restarts and
// are shared by every replica.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// DefaultTTL is how long an untouched guest cart is kept.
const DefaultTTL = 30 * 24 * time.Hour

// GuestStorage implements cart.GuestStorage. Every save refreshes the TTL.
type GuestStorage struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ cart.GuestStorage = (*GuestStorage)(nil)

// NewGuestStorage creates a GuestStorage. A non-positive ttl means DefaultTTL.
func NewGuestStorage(client redis.Cmdable, ttl time.Duration) *GuestStorage {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &GuestStorage{client: client, ttl: ttl}
}

// Load implements cart.GuestStorage.
func (g *GuestStorage) Load(ctx context.Context, slot string) ([]cart.LineItem, error) {
	data, err := g.client.Get(ctx, slotKey(slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	items, err := cart.DecodeGuest(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode slot %s", slot)
	}
	return items, nil
}

// Save implements cart.GuestStorage. An empty cart removes the slot.
func (g *GuestStorage) Save(ctx context.Context, slot string, items []cart.LineItem) error {
	if len(items) == 0 {
		return g.Delete(ctx, slot)
	}
	if err := g.client.Set(ctx, slotKey(slot), cart.EncodeGuest(items), g.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete implements cart.GuestStorage.
func (g *GuestStorage) Delete(ctx context.Context, slot string) error {
	if err := g.client.Del(ctx, slotKey(slot)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// Ping checks the connection.
func (g *GuestStorage) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func slotKey(slot string) string {
	return fmt.Sprintf("guestcart:%s", slot)
}
