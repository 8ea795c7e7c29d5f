package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Catalog is a product.Repository and inventory.Availability over a fixed
// product list with adjustable stock.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]product.Product
	order    []string
	stock    map[string]int
}

var (
	_ product.Repository     = (*Catalog)(nil)
	_ inventory.Availability = (*Catalog)(nil)
)

// NewCatalog creates a Catalog. Stock starts at each product's StockHint.
func NewCatalog(products ...product.Product) *Catalog {
	c := &Catalog{
		products: make(map[string]product.Product, len(products)),
		stock:    make(map[string]int, len(products)),
	}
	for _, p := range products {
		if _, ok := c.products[p.ID]; !ok {
			c.order = append(c.order, p.ID)
		}
		c.products[p.ID] = p
		c.stock[p.ID] = p.StockHint
	}
	return c
}

// SetStock sets the available quantity of a product.
func (c *Catalog) SetStock(productID string, available int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[productID] = available
}

// GetByID implements product.Repository.
func (c *Catalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs implements product.Repository. Unknown ids are skipped.
func (c *Catalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// List returns all products in insertion order.
func (c *Catalog) List(context.Context) ([]product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]product.Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out, nil
}

// Availability implements inventory.Availability. Unknown products report 0.
func (c *Catalog) Availability(_ context.Context, productIDs []string) (map[string]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = c.stock[id]
	}
	return out, nil
}
