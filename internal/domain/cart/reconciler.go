package cart

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/identity"
)

// DefaultMergeConcurrency limits concurrent server adds during a merge.
const DefaultMergeConcurrency = 4

// MergeReport describes a guest to server merge.
type MergeReport struct {
	Merged int
	// Failed lists product ids whose server add failed. Those lines are lost.
	Failed []string
}

// Reconciler keeps a Store consistent with the session identity.
type Reconciler struct {
	store       *Store
	concurrency int
	onMerge     func(MergeReport)
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(r *Reconciler)

// WithMergeConcurrency overrides DefaultMergeConcurrency.
func WithMergeConcurrency(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithMergeReport registers a callback receiving every finished merge.
func WithMergeReport(fn func(MergeReport)) ReconcilerOption {
	return func(r *Reconciler) { r.onMerge = fn }
}

// NewReconciler creates a reconciler for store.
func NewReconciler(store *Store, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:       store,
		concurrency: DefaultMergeConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle applies an identity transition to the store. It satisfies
// identity.Handler.
func (r *Reconciler) Handle(ctx context.Context, c identity.Change) error {
	switch {
	case c.To.IsGuest():
		// Logout discards the identified cart.
		r.store.reset(ctx, false)
		return nil
	case c.From.IsGuest():
		_, err := r.Merge(ctx, c.To.AccountID)
		return err
	default:
		// Account switch: the guest cart was already merged into the
		// previous account.
		return r.store.adoptServer(ctx, c.To.AccountID)
	}
}

// Merge adds every guest line to the server cart of accountID, drops the guest
// slot and adopts the resulting server cart. Individual add failures are
// logged and reported, they do not fail the merge.
func (r *Reconciler) Merge(ctx context.Context, accountID string) (*MergeReport, error) {
	s := r.store
	lg := zctx.From(ctx).With(zap.String("account_id", accountID))

	// No guest mutation may interleave with the merge.
	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	items, err := s.deps.Guest.Load(ctx, s.slot)
	if err != nil {
		lg.Warn("Load guest cart, merging in-memory lines", zap.Error(err))
		if st := s.State(); st.Mode == ModeGuest {
			items = st.Items
		}
	}

	report := &MergeReport{}
	if len(items) > 0 {
		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		g.SetLimit(r.concurrency)
		for _, item := range items {
			g.Go(func() error {
				_, err := s.deps.Server.AddItem(ctx, accountID, item.ProductID, item.Quantity)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					lg.Warn("Merge guest line",
						zap.String("product_id", item.ProductID),
						zap.Int("quantity", item.Quantity),
						zap.Error(err),
					)
					report.Failed = append(report.Failed, item.ProductID)
					return nil
				}
				report.Merged++
				return nil
			})
		}
		_ = g.Wait()

		if err := s.deps.Guest.Delete(ctx, s.slot); err != nil {
			lg.Warn("Delete guest cart", zap.Error(err))
		}
	}

	if err := s.adoptServer(ctx, accountID); err != nil {
		return report, errors.Wrap(err, "adopt server cart")
	}

	lg.Info("Merged guest cart",
		zap.Int("merged", report.Merged),
		zap.Int("failed", len(report.Failed)),
	)
	if r.onMerge != nil {
		r.onMerge(*report)
	}
	return report, nil
}
