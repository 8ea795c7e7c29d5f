package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// ServerCart is a cart.ServerCart keeping one cart per account. Lines are
// priced from the catalog, adding an existing product merges into its line and
// every quantity is clamped to the remaining stock.
type ServerCart struct {
	catalog product.Repository
	stock   inventory.Availability

	mu    sync.Mutex
	carts map[string]*cart.Snapshot
}

var _ cart.ServerCart = (*ServerCart)(nil)

// NewServerCart creates a ServerCart pricing lines from catalog and checking
// quantities against stock.
func NewServerCart(catalog product.Repository, stock inventory.Availability) *ServerCart {
	return &ServerCart{catalog: catalog, stock: stock, carts: map[string]*cart.Snapshot{}}
}

// GetCart implements cart.ServerCart.
func (s *ServerCart) GetCart(_ context.Context, accountID string) (*cart.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(accountID), nil
}

// AddItem implements cart.ServerCart.
func (s *ServerCart) AddItem(ctx context.Context, accountID, productID string, qty int) (*cart.Snapshot, error) {
	if qty <= 0 {
		return nil, cart.ErrInvalidQuantity
	}
	p, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	available, err := s.available(ctx, productID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(accountID)
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			s.setQuantityLocked(c, i, inventory.Clamp(c.Items[i].Quantity+qty, available))
			return s.snapshotLocked(accountID), nil
		}
	}
	if qty = inventory.Clamp(qty, available); qty > 0 {
		c.Items = append(c.Items, cart.LineItem{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  qty,
			UnitPrice: p.Price,
			StockHint: p.StockHint,
		})
	}
	return s.snapshotLocked(accountID), nil
}

// UpdateItem implements cart.ServerCart. A line whose product ran out of
// stock is removed.
func (s *ServerCart) UpdateItem(ctx context.Context, accountID, lineID string, qty int) (*cart.Snapshot, error) {
	if qty <= 0 {
		return nil, cart.ErrInvalidQuantity
	}

	s.mu.Lock()
	line, ok := s.lineLocked(accountID, lineID)
	s.mu.Unlock()
	if !ok {
		return nil, cart.ErrLineNotFound
	}
	available, err := s.available(ctx, line.ProductID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(accountID)
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			s.setQuantityLocked(c, i, inventory.Clamp(qty, available))
			return s.snapshotLocked(accountID), nil
		}
	}
	return nil, cart.ErrLineNotFound
}

// RemoveItem implements cart.ServerCart.
func (s *ServerCart) RemoveItem(_ context.Context, accountID, lineID string) (*cart.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartLocked(accountID)
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return s.snapshotLocked(accountID), nil
		}
	}
	return nil, cart.ErrLineNotFound
}

// Empty removes every line of the account's cart.
func (s *ServerCart) Empty(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartLocked(accountID).Items = nil
	return nil
}

func (s *ServerCart) available(ctx context.Context, productID string) (int, error) {
	stock, err := s.stock.Availability(ctx, []string{productID})
	if err != nil {
		return 0, errors.Wrap(err, "get availability")
	}
	return stock[productID], nil
}

func (s *ServerCart) lineLocked(accountID, lineID string) (cart.LineItem, bool) {
	for _, l := range s.cartLocked(accountID).Items {
		if l.ID == lineID {
			return l, true
		}
	}
	return cart.LineItem{}, false
}

// setQuantityLocked sets the quantity of line i, dropping it at zero.
func (s *ServerCart) setQuantityLocked(c *cart.Snapshot, i, qty int) {
	if qty <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return
	}
	c.Items[i].Quantity = qty
}

func (s *ServerCart) cartLocked(accountID string) *cart.Snapshot {
	c, ok := s.carts[accountID]
	if !ok {
		c = &cart.Snapshot{ID: uuid.NewString()}
		s.carts[accountID] = c
	}
	return c
}

func (s *ServerCart) snapshotLocked(accountID string) *cart.Snapshot {
	c := s.cartLocked(accountID)
	return &cart.Snapshot{ID: c.ID, Items: append([]cart.LineItem(nil), c.Items...)}
}
