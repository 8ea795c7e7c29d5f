// Package session keeps the checkout orchestrator of every browser session:
// its cart, reconciler, identity tracker and checkout machine.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/identity"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

// ErrMissingID is returned for requests without a session id.
var ErrMissingID = errors.New("session id required")

// ServerCart is the server cart collaborator. Empty is called after a
// purchase.
type ServerCart interface {
	cart.ServerCart
	Empty(ctx context.Context, accountID string) error
}

// Deps are the shared collaborators every session is built from.
type Deps struct {
	Catalog  cart.Catalog
	Resolver cart.QuantityResolver
	Server   ServerCart
	Guest    cart.GuestStorage
	Coupons  checkout.CouponChecker
	Detailed quote.Quoter
	Legacy   quote.Quoter
	Payments checkout.Payments
	Meter    metric.Meter
}

// Config tunes sessions.
type Config struct {
	IdleTTL          time.Duration
	SweepInterval    time.Duration
	QuoteDebounce    time.Duration
	MergeConcurrency int
	Cart             cart.Options
	Checkout         checkout.Config
}

func (c *Config) setDefaults() {
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

// Session is the orchestrator of one browser session.
type Session struct {
	ID       string
	Tracker  *identity.Tracker
	Cart     *cart.Store
	Checkout *checkout.Machine

	restore sync.Once

	mu       sync.Mutex
	lastSeen time.Time
}

// EmptyCart removes every line of the session cart, keeping its mode.
func (s *Session) EmptyCart(ctx context.Context) error {
	for _, line := range s.Cart.State().Items {
		if err := s.Cart.Remove(ctx, line.ID); err != nil && !errors.Is(err, cart.ErrLineNotFound) {
			return errors.Wrapf(err, "remove line %s", line.ID)
		}
	}
	return nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Registry holds the live sessions and evicts idle ones.
type Registry struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	baseCtx context.Context
	active  metric.Int64UpDownCounter

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry. Background work of the sessions runs under
// ctx.
func NewRegistry(ctx context.Context, deps Deps, cfg Config) (*Registry, error) {
	cfg.setDefaults()
	if deps.Meter == nil {
		deps.Meter = noop.NewMeterProvider().Meter("session")
	}

	active, err := deps.Meter.Int64UpDownCounter("storefront.sessions.active",
		metric.WithDescription("Sessions held in memory"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "active sessions counter")
	}

	return &Registry{
		deps:     deps,
		cfg:      cfg,
		now:      time.Now,
		baseCtx:  ctx,
		active:   active,
		sessions: map[string]*Session{},
	}, nil
}

// Get returns the session with the given id, creating it on first use, and
// reports the identity seen on the current request to it. A new session
// restores its guest cart from storage.
func (r *Registry) Get(ctx context.Context, id string, ident identity.Identity) (*Session, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	s, err := r.getOrCreate(id)
	if err != nil {
		return nil, err
	}
	s.touch(r.now())

	s.restore.Do(func() {
		if err := s.Cart.Refresh(ctx); err != nil {
			zctx.From(ctx).Warn("Restore guest cart",
				zap.String("session_id", id),
				zap.Error(err),
			)
		}
	})

	if err := s.Tracker.Observe(ctx, ident); err != nil {
		return nil, errors.Wrap(err, "observe identity")
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the idle TTL and returns how
// many were evicted. Guest carts stay in guest storage.
func (r *Registry) Sweep(ctx context.Context) int {
	deadline := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(deadline) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Checkout.Close()
	}
	if len(idle) > 0 {
		r.active.Add(ctx, -int64(len(idle)))
		zctx.From(ctx).Debug("Evicted idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*Session{}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Checkout.Close()
	}
}

func (r *Registry) getOrCreate(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	s, err := r.build(id)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	r.active.Add(r.baseCtx, 1)
	return s, nil
}

func (r *Registry) build(id string) (*Session, error) {
	quotes, err := quote.NewFetcher(r.deps.Detailed, r.deps.Legacy, quote.Options{
		Debounce: r.cfg.QuoteDebounce,
		Meter:    r.deps.Meter,
	})
	if err != nil {
		return nil, errors.Wrap(err, "quote fetcher")
	}

	s := &Session{
		ID:      id,
		Tracker: identity.NewTracker(identity.Guest()),
	}
	s.Cart = cart.NewStore(id, identity.Guest(), cart.Deps{
		Resolver: r.deps.Resolver,
		Catalog:  r.deps.Catalog,
		Server:   r.deps.Server,
		Guest:    r.deps.Guest,
	}, r.cfg.Cart)

	var opts []cart.ReconcilerOption
	if r.cfg.MergeConcurrency > 0 {
		opts = append(opts, cart.WithMergeConcurrency(r.cfg.MergeConcurrency))
	}
	if err := s.Tracker.Bind(cart.NewReconciler(s.Cart, opts...).Handle); err != nil {
		return nil, errors.Wrap(err, "bind reconciler")
	}

	s.Checkout = checkout.NewMachine(r.baseCtx, checkout.Deps{
		Cart:       s.Cart,
		Identity:   s.Tracker,
		Coupons:    r.deps.Coupons,
		Quotes:     quotes,
		Payments:   r.deps.Payments,
		OnComplete: r.onComplete(s),
	}, r.cfg.Checkout)
	return s, nil
}

// onComplete empties the account's server cart and forgets the identity so
// the next request adopts the emptied cart.
func (r *Registry) onComplete(s *Session) func(ctx context.Context) {
	return func(ctx context.Context) {
		if id := s.Tracker.Current(); !id.IsGuest() {
			if err := r.deps.Server.Empty(ctx, id.AccountID); err != nil {
				zctx.From(ctx).Warn("Empty server cart after purchase",
					zap.String("session_id", s.ID),
					zap.Error(err),
				)
			}
		}
		s.Tracker.Reset()
	}
}
