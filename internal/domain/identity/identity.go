// Package identity models who the current session belongs to and reports
// transitions between guest and identified accounts.
package identity

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
)

// ErrAlreadyBound is returned when a second handler is bound to a Tracker.
var ErrAlreadyBound = errors.New("identity change handler already bound")

// Identity is the account a session acts on behalf of. The zero value is a guest.
type Identity struct {
	AccountID string
}

// Guest returns the guest identity.
func Guest() Identity { return Identity{} }

// Account returns an identified identity for the given account.
func Account(id string) Identity { return Identity{AccountID: id} }

// IsGuest reports whether the identity has no account.
func (i Identity) IsGuest() bool { return i.AccountID == "" }

// Change describes a transition from one identity to another.
type Change struct {
	From Identity
	To   Identity
}

// Login reports a guest to identified transition.
func (c Change) Login() bool { return c.From.IsGuest() && !c.To.IsGuest() }

// Logout reports an identified to guest transition.
func (c Change) Logout() bool { return !c.From.IsGuest() && c.To.IsGuest() }

// Handler reacts to an identity change.
type Handler func(ctx context.Context, c Change) error

// Tracker holds the last observed identity of a session and fires its bound
// handler on every detected transition.
type Tracker struct {
	mu      sync.Mutex
	current Identity
	handler Handler
}

// NewTracker creates a Tracker starting at the given identity. The initial
// identity is not reported as a change.
func NewTracker(initial Identity) *Tracker {
	return &Tracker{current: initial}
}

// Bind sets the handler invoked on transitions. Only one handler may be bound.
func (t *Tracker) Bind(h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler != nil {
		return ErrAlreadyBound
	}
	t.handler = h
	return nil
}

// Current returns the last observed identity.
func (t *Tracker) Current() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Observe records the identity seen on the latest request. When it differs
// from the previous one the bound handler runs synchronously. If the handler
// fails the transition is not recorded, so the next Observe retries it.
// Observe holds the tracker lock for the duration of the handler, so
// concurrent observations of the same transition fire the handler once.
func (t *Tracker) Observe(ctx context.Context, id Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == t.current {
		return nil
	}
	c := Change{From: t.current, To: id}
	if t.handler != nil {
		if err := t.handler(ctx, c); err != nil {
			return errors.Wrap(err, "handle identity change")
		}
	}
	t.current = id
	return nil
}

// Reset forgets the observed identity without firing the handler, so the next
// Observe of an account is treated as a fresh login.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Guest()
}
