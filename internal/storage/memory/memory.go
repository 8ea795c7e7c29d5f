// Package memory implements the checkout collaborators in process memory.
// It backs single-node development runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// GuestStorage keeps encoded guest carts per slot.
type GuestStorage struct {
	mu    sync.Mutex
	slots map[string][]byte
}

var _ cart.GuestStorage = (*GuestStorage)(nil)

// NewGuestStorage creates an empty GuestStorage.
func NewGuestStorage() *GuestStorage {
	return &GuestStorage{slots: map[string][]byte{}}
}

// Load implements cart.GuestStorage.
func (g *GuestStorage) Load(_ context.Context, slot string) ([]cart.LineItem, error) {
	g.mu.Lock()
	data, ok := g.slots[slot]
	g.mu.Unlock()
	if !ok {
		return nil, nil
	}

	items, err := cart.DecodeGuest(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode slot %s", slot)
	}
	return items, nil
}

// Save implements cart.GuestStorage.
func (g *GuestStorage) Save(_ context.Context, slot string, items []cart.LineItem) error {
	data := cart.EncodeGuest(items)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.slots[slot] = data
	return nil
}

// Delete implements cart.GuestStorage.
func (g *GuestStorage) Delete(_ context.Context, slot string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.slots, slot)
	return nil
}
