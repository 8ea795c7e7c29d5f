// Package cart holds the session cart: guest lines kept in durable slot
// storage, identified lines mirrored from the server cart, and the reconciler
// that merges the two when the session identity changes.
package cart

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart mutations.
var (
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrLineNotFound    = errors.New("cart line not found")
)

// Mode tells whether the cart is held by the session or by the server.
type Mode string

const (
	// ModeGuest carts live in the session's guest slot storage.
	ModeGuest Mode = "guest"
	// ModeIdentified carts are owned by the server cart of an account.
	ModeIdentified Mode = "identified"
)

// LineItem is one product line of the cart.
type LineItem struct {
	// ID is server-assigned for identified carts and a random token for guest lines.
	ID        string
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	// StockHint is the last availability bound known for the product, used as
	// the fallback clamp when the inventory lookup fails. Zero means unknown.
	StockHint int
}

// Total returns UnitPrice × Quantity.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// State is a read-only view of the cart. Subtotal and TotalCount are always
// derived from Items.
type State struct {
	Mode         Mode
	ServerCartID string
	Items        []LineItem
	Subtotal     decimal.Decimal
	TotalCount   int
	DrawerOpen   bool
}

// IsEmpty reports whether the cart holds no lines.
func (s State) IsEmpty() bool { return len(s.Items) == 0 }

// Line returns the line with the given id.
func (s State) Line(id string) (LineItem, bool) {
	i := slices.IndexFunc(s.Items, func(l LineItem) bool { return l.ID == id })
	if i < 0 {
		return LineItem{}, false
	}
	return s.Items[i], true
}

// LineByProduct returns the line holding the given product.
func (s State) LineByProduct(productID string) (LineItem, bool) {
	i := slices.IndexFunc(s.Items, func(l LineItem) bool { return l.ProductID == productID })
	if i < 0 {
		return LineItem{}, false
	}
	return s.Items[i], true
}

func (s State) clone() State {
	s.Items = slices.Clone(s.Items)
	return s
}

// newState builds a State from raw lines: lines with a non-positive quantity
// are dropped, lines repeating a product are coalesced into the first one, and
// the totals are recomputed.
func newState(mode Mode, serverCartID string, items []LineItem, drawerOpen bool) State {
	st := State{
		Mode:         mode,
		ServerCartID: serverCartID,
		Items:        make([]LineItem, 0, len(items)),
		Subtotal:     decimal.Zero,
		DrawerOpen:   drawerOpen,
	}

	byProduct := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		if i, ok := byProduct[item.ProductID]; ok {
			st.Items[i].Quantity += item.Quantity
			continue
		}
		byProduct[item.ProductID] = len(st.Items)
		st.Items = append(st.Items, item)
	}

	for _, item := range st.Items {
		st.Subtotal = st.Subtotal.Add(item.Total())
		st.TotalCount += item.Quantity
	}
	return st
}

// Snapshot is the canonical cart as returned by the server.
type Snapshot struct {
	ID    string
	Items []LineItem
}

// ServerCart is the server cart collaborator. Every call returns the cart as
// the server sees it after the call.
type ServerCart interface {
	GetCart(ctx context.Context, accountID string) (*Snapshot, error)
	AddItem(ctx context.Context, accountID, productID string, qty int) (*Snapshot, error)
	UpdateItem(ctx context.Context, accountID, lineID string, qty int) (*Snapshot, error)
	RemoveItem(ctx context.Context, accountID, lineID string) (*Snapshot, error)
}

// GuestStorage persists guest carts in a durable per-session slot. Load of a
// missing slot returns no items and no error.
type GuestStorage interface {
	Load(ctx context.Context, slot string) ([]LineItem, error)
	Save(ctx context.Context, slot string, items []LineItem) error
	Delete(ctx context.Context, slot string) error
}

// QuantityResolver clamps a desired quantity to the available stock.
type QuantityResolver interface {
	Resolve(ctx context.Context, productID string, desired, fallbackMax int) int
}
