package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Orders is an order.Repository.
type Orders struct {
	mu       sync.Mutex
	byID     map[string]*order.Order
	bySecret map[string]string
}

var _ order.Repository = (*Orders)(nil)

// NewOrders creates an empty Orders repository.
func NewOrders() *Orders {
	return &Orders{byID: map[string]*order.Order{}, bySecret: map[string]string{}}
}

// Create implements order.Repository.
func (r *Orders) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[o.ID]; ok {
		return errors.Errorf("order %s exists", o.ID)
	}
	c := *o
	c.Items = append([]order.Item(nil), o.Items...)
	r.byID[o.ID] = &c
	r.bySecret[o.Secret] = o.ID
	return nil
}

// FindByID implements order.Repository.
func (r *Orders) FindByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(id)
}

// FindBySecret implements order.Repository.
func (r *Orders) FindBySecret(_ context.Context, secret string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySecret[secret]
	if !ok {
		return nil, order.ErrNotFound
	}
	return r.findLocked(id)
}

// MarkPaid implements order.Repository.
func (r *Orders) MarkPaid(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byID[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status == order.StatusPaid {
		return false, nil
	}
	o.Status = order.StatusPaid
	o.PaidAt = &at
	return true, nil
}

func (r *Orders) findLocked(id string) (*order.Order, error) {
	o, ok := r.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := *o
	c.Items = append([]order.Item(nil), o.Items...)
	return &c, nil
}
