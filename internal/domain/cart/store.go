package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/identity"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// DefaultFallbackMax bounds guest quantities of products with no known stock
// when the inventory lookup fails.
const DefaultFallbackMax = 10

// Catalog resolves product metadata for new guest lines.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Deps are the collaborators of a Store.
type Deps struct {
	Resolver QuantityResolver
	Catalog  Catalog
	Server   ServerCart
	Guest    GuestStorage
}

// Options tune a Store.
type Options struct {
	FallbackMax int
	NewLineID   func() string
}

func (o *Options) setDefaults() {
	if o.FallbackMax <= 0 {
		o.FallbackMax = DefaultFallbackMax
	}
	if o.NewLineID == nil {
		o.NewLineID = func() string { return uuid.NewString() }
	}
}

// Store is the cart of a single session.
//
// Guest mutations are serialized and persisted to the guest slot. Identified
// mutations go to the server and the store adopts the re-fetched server cart
// only if no newer mutation or identity change started in the meantime.
type Store struct {
	deps Deps
	opts Options
	slot string

	// guestMu serializes guest mutations and every access to the guest slot.
	guestMu sync.Mutex

	mu        sync.Mutex
	state     State
	accountID string
	gen       uint64
	observers map[int]func(State)
	nextObs   int
}

// NewStore creates the cart of the session owning the given guest slot.
// Identified stores start empty until Refresh.
func NewStore(slot string, id identity.Identity, deps Deps, opts Options) *Store {
	opts.setDefaults()
	s := &Store{
		deps:      deps,
		opts:      opts,
		slot:      slot,
		observers: map[int]func(State){},
	}
	if id.IsGuest() {
		s.state = newState(ModeGuest, "", nil, false)
	} else {
		s.state = newState(ModeIdentified, "", nil, false)
		s.accountID = id.AccountID
	}
	return s
}

// State returns a copy of the current cart.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to be called with every new state. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Add adds qty units of a product. Guest quantities are clamped to the
// resolved availability; meta may be nil, then the catalog is consulted for
// new lines.
func (s *Store) Add(ctx context.Context, productID string, qty int, meta *product.Product) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	s.guestMu.Lock()
	mode, accountID := s.identity()
	if mode == ModeIdentified {
		s.guestMu.Unlock()
		return s.mutateServer(ctx, "add item", accountID, func(ctx context.Context) (*Snapshot, error) {
			return s.deps.Server.AddItem(ctx, accountID, productID, qty)
		})
	}
	defer s.guestMu.Unlock()

	line, exists := s.State().LineByProduct(productID)
	if !exists {
		if meta == nil {
			p, err := s.deps.Catalog.GetByID(ctx, productID)
			if err != nil {
				return errors.Wrap(err, "get product")
			}
			meta = p
		}
		line = LineItem{
			ID:        s.opts.NewLineID(),
			ProductID: productID,
			Name:      meta.Name,
			UnitPrice: meta.Price,
		}
	}
	if meta != nil && meta.StockHint > 0 {
		line.StockHint = meta.StockHint
	}

	line.Quantity = s.deps.Resolver.Resolve(ctx, productID, line.Quantity+qty, s.fallbackBound(line))
	s.applyGuest(ctx, line)
	return nil
}

// Update sets the quantity of a line. A non-positive quantity removes it.
func (s *Store) Update(ctx context.Context, lineID string, qty int) error {
	if qty <= 0 {
		return s.Remove(ctx, lineID)
	}

	s.guestMu.Lock()
	mode, accountID := s.identity()
	if mode == ModeIdentified {
		s.guestMu.Unlock()
		return s.mutateServer(ctx, "update item", accountID, func(ctx context.Context) (*Snapshot, error) {
			return s.deps.Server.UpdateItem(ctx, accountID, lineID, qty)
		})
	}
	defer s.guestMu.Unlock()

	line, ok := s.State().Line(lineID)
	if !ok {
		return ErrLineNotFound
	}
	line.Quantity = s.deps.Resolver.Resolve(ctx, line.ProductID, qty, s.fallbackBound(line))
	s.applyGuest(ctx, line)
	return nil
}

// Remove deletes a line.
func (s *Store) Remove(ctx context.Context, lineID string) error {
	s.guestMu.Lock()
	mode, accountID := s.identity()
	if mode == ModeIdentified {
		s.guestMu.Unlock()
		return s.mutateServer(ctx, "remove item", accountID, func(ctx context.Context) (*Snapshot, error) {
			return s.deps.Server.RemoveItem(ctx, accountID, lineID)
		})
	}
	defer s.guestMu.Unlock()

	line, ok := s.State().Line(lineID)
	if !ok {
		return ErrLineNotFound
	}
	line.Quantity = 0
	s.applyGuest(ctx, line)
	return nil
}

// Clear resets the cart to an empty guest cart and drops the guest slot.
// Used after a completed purchase.
func (s *Store) Clear(ctx context.Context) {
	s.reset(ctx, true)
}

// OpenDrawer marks the cart drawer as visible.
func (s *Store) OpenDrawer() { s.setDrawer(true) }

// CloseDrawer hides the cart drawer.
func (s *Store) CloseDrawer() { s.setDrawer(false) }

// Refresh reloads the cart from its source of truth.
func (s *Store) Refresh(ctx context.Context) error {
	s.guestMu.Lock()
	mode, accountID := s.identity()
	if mode == ModeIdentified {
		s.guestMu.Unlock()
		return s.adoptServer(ctx, accountID)
	}
	defer s.guestMu.Unlock()

	items, err := s.deps.Guest.Load(ctx, s.slot)
	if err != nil {
		return errors.Wrap(err, "load guest cart")
	}

	s.mu.Lock()
	s.gen++
	s.state = newState(ModeGuest, "", items, s.state.DrawerOpen)
	st := s.state.clone()
	s.mu.Unlock()

	s.notify(st)
	return nil
}

// fallbackBound is the clamp used when availability is unknown: the stock
// hint if any, otherwise the current quantity for existing lines so the
// quantity never grows past a known bound, otherwise the configured maximum.
func (s *Store) fallbackBound(line LineItem) int {
	switch {
	case line.StockHint > 0:
		return max(line.StockHint, line.Quantity)
	case line.Quantity > 0:
		return line.Quantity
	default:
		return s.opts.FallbackMax
	}
}

func (s *Store) identity() (Mode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Mode, s.accountID
}

func (s *Store) nextGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// applyGuest replaces the line with the same id, appends it if new, or drops
// it if its quantity is zero, then persists the guest cart. Must be called
// with guestMu held.
func (s *Store) applyGuest(ctx context.Context, line LineItem) {
	s.mu.Lock()
	items := slices.Clone(s.state.Items)
	i := slices.IndexFunc(items, func(l LineItem) bool { return l.ID == line.ID })
	switch {
	case i >= 0 && line.Quantity <= 0:
		items = slices.Delete(items, i, i+1)
	case i >= 0:
		items[i] = line
	case line.Quantity > 0:
		items = append(items, line)
	}
	s.gen++
	s.state = newState(ModeGuest, "", items, s.state.DrawerOpen)
	st := s.state.clone()
	s.mu.Unlock()

	if err := s.deps.Guest.Save(ctx, s.slot, st.Items); err != nil {
		zctx.From(ctx).Warn("Persist guest cart",
			zap.String("slot", s.slot),
			zap.Error(err),
		)
	}
	s.notify(st)
}

// mutateServer runs an identified mutation, then re-fetches the canonical
// cart. When the re-fetch fails the mutation response is used instead.
//
// The generation is taken when the re-fetch is issued, so a failed mutation
// never supersedes the re-fetch of an earlier successful one.
func (s *Store) mutateServer(ctx context.Context, op, accountID string, call func(ctx context.Context) (*Snapshot, error)) error {
	resp, err := call(ctx)
	if err != nil {
		return errors.Wrap(err, op)
	}

	gen := s.nextGen()
	snap, err := s.deps.Server.GetCart(ctx, accountID)
	if err != nil {
		zctx.From(ctx).Warn("Re-fetch server cart, using mutation response",
			zap.String("op", op),
			zap.Error(err),
		)
		snap = resp
	}
	s.applyServer(ctx, gen, accountID, snap, false)
	return nil
}

// adoptServer replaces the cart with the server cart of accountID and
// switches the store to identified mode.
func (s *Store) adoptServer(ctx context.Context, accountID string) error {
	gen := s.nextGen()
	snap, err := s.deps.Server.GetCart(ctx, accountID)
	if err != nil {
		return errors.Wrap(err, "get server cart")
	}
	s.applyServer(ctx, gen, accountID, snap, true)
	return nil
}

// applyServer stores snap if gen is still the latest generation. Unless
// adopt is set, snap is also dropped when the store changed identity.
func (s *Store) applyServer(ctx context.Context, gen uint64, accountID string, snap *Snapshot, adopt bool) bool {
	if snap == nil {
		snap = &Snapshot{}
	}

	s.mu.Lock()
	if gen != s.gen || (!adopt && (s.state.Mode != ModeIdentified || s.accountID != accountID)) {
		s.mu.Unlock()
		zctx.From(ctx).Debug("Discard stale server cart",
			zap.Uint64("gen", gen),
			zap.String("cart_id", snap.ID),
		)
		return false
	}
	s.accountID = accountID
	s.state = newState(ModeIdentified, snap.ID, snap.Items, s.state.DrawerOpen)
	st := s.state.clone()
	s.mu.Unlock()

	s.notify(st)
	return true
}

func (s *Store) reset(ctx context.Context, dropSlot bool) {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	s.mu.Lock()
	s.gen++
	s.accountID = ""
	s.state = newState(ModeGuest, "", nil, false)
	st := s.state.clone()
	s.mu.Unlock()

	if dropSlot {
		if err := s.deps.Guest.Delete(ctx, s.slot); err != nil {
			zctx.From(ctx).Warn("Delete guest cart",
				zap.String("slot", s.slot),
				zap.Error(err),
			)
		}
	}
	s.notify(st)
}

func (s *Store) setDrawer(open bool) {
	s.mu.Lock()
	if s.state.DrawerOpen == open {
		s.mu.Unlock()
		return
	}
	s.state.DrawerOpen = open
	st := s.state.clone()
	s.mu.Unlock()

	s.notify(st)
}

func (s *Store) notify(st State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st.clone())
	}
}
