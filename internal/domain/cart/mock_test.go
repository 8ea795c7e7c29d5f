package cart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/product"
)

type mockResolver struct {
	stock map[string]int
	fail  bool
}

func (m *mockResolver) Resolve(_ context.Context, productID string, desired, fallbackMax int) int {
	upper := fallbackMax
	if !m.fail {
		upper = m.stock[productID]
	}
	return min(max(desired, 0), max(upper, 0))
}

type mockCatalog struct {
	products map[string]*product.Product
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

type mockGuest struct {
	mu      sync.Mutex
	slots   map[string][]byte
	loadErr error
	saveErr error
	deletes int
}

func newMockGuest() *mockGuest {
	return &mockGuest{slots: map[string][]byte{}}
}

func (m *mockGuest) Load(_ context.Context, slot string) ([]LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	data, ok := m.slots[slot]
	if !ok {
		return nil, nil
	}
	return DecodeGuest(data)
}

func (m *mockGuest) Save(_ context.Context, slot string, items []LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.slots[slot] = EncodeGuest(items)
	return nil
}

func (m *mockGuest) Delete(_ context.Context, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.slots, slot)
	return nil
}

// mockServer keeps one cart per account, merging adds of the same product.
type mockServer struct {
	mu     sync.Mutex
	carts  map[string][]LineItem
	prices map[string]decimal.Decimal
	addErr map[string]error
	getErr error
	adds   int
	nextID int

	// beforeGet runs before GetCart answers.
	beforeGet func()
}

func newMockServer() *mockServer {
	return &mockServer{
		carts:  map[string][]LineItem{},
		prices: map[string]decimal.Decimal{},
		addErr: map[string]error{},
	}
}

func (m *mockServer) snapshot(accountID string) *Snapshot {
	return &Snapshot{ID: "cart-" + accountID, Items: slices.Clone(m.carts[accountID])}
}

func (m *mockServer) GetCart(_ context.Context, accountID string) (*Snapshot, error) {
	if m.beforeGet != nil {
		m.beforeGet()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.snapshot(accountID), nil
}

func (m *mockServer) AddItem(_ context.Context, accountID, productID string, qty int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adds++
	if err := m.addErr[productID]; err != nil {
		return nil, err
	}
	items := m.carts[accountID]
	i := slices.IndexFunc(items, func(l LineItem) bool { return l.ProductID == productID })
	if i >= 0 {
		items[i].Quantity += qty
	} else {
		m.nextID++
		items = append(items, LineItem{
			ID:        fmt.Sprintf("srv-%d", m.nextID),
			ProductID: productID,
			Name:      productID,
			Quantity:  qty,
			UnitPrice: m.prices[productID],
		})
	}
	m.carts[accountID] = items
	return m.snapshot(accountID), nil
}

func (m *mockServer) UpdateItem(_ context.Context, accountID, lineID string, qty int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.carts[accountID]
	i := slices.IndexFunc(items, func(l LineItem) bool { return l.ID == lineID })
	if i < 0 {
		return nil, ErrLineNotFound
	}
	items[i].Quantity = qty
	return m.snapshot(accountID), nil
}

func (m *mockServer) RemoveItem(_ context.Context, accountID, lineID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[accountID] = slices.DeleteFunc(m.carts[accountID], func(l LineItem) bool { return l.ID == lineID })
	return m.snapshot(accountID), nil
}
