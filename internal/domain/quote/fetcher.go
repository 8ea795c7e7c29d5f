package quote

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Outcome tells what happened to a fetch.
type Outcome int

const (
	// Applied means the quote was handed to the apply callback.
	Applied Outcome = iota
	// Stale means a newer request was issued; the result was dropped.
	Stale
	// Failed means both quoters failed; previous values must be kept.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	default:
		return "failed"
	}
}

// Options tune a Fetcher.
type Options struct {
	// Debounce delays each request; a request overtaken while waiting is
	// never sent.
	Debounce time.Duration
	Meter    metric.Meter
}

// Fetcher issues quote requests, falling back from the detailed quoter to the
// legacy one, and applies only the response of the latest request.
type Fetcher struct {
	detailed Quoter
	legacy   Quoter
	debounce time.Duration

	mu      sync.Mutex
	counter uint64

	staleCount    metric.Int64Counter
	fallbackCount metric.Int64Counter
}

// NewFetcher creates a Fetcher.
func NewFetcher(detailed, legacy Quoter, opts Options) (*Fetcher, error) {
	meter := opts.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("quote")
	}

	f := &Fetcher{
		detailed: detailed,
		legacy:   legacy,
		debounce: opts.Debounce,
	}

	var err error
	if f.staleCount, err = meter.Int64Counter("checkout.quote.stale",
		metric.WithDescription("Quote responses discarded because a newer request was issued"),
	); err != nil {
		return nil, errors.Wrap(err, "stale counter")
	}
	if f.fallbackCount, err = meter.Int64Counter("checkout.quote.fallback",
		metric.WithDescription("Quote requests served by the legacy quoter"),
	); err != nil {
		return nil, errors.Wrap(err, "fallback counter")
	}
	return f, nil
}

// Invalidate makes every in-flight request stale.
func (f *Fetcher) Invalidate() {
	f.mu.Lock()
	f.counter++
	f.mu.Unlock()
}

// Fetch requests a quote and calls apply with it unless a newer Fetch or an
// Invalidate happened meanwhile. Stale results are dropped silently. When both
// quoters fail, Fetch returns Failed with the error and apply is not called.
func (f *Fetcher) Fetch(ctx context.Context, req Request, apply func(Quote)) (Outcome, error) {
	f.mu.Lock()
	f.counter++
	gen := f.counter
	f.mu.Unlock()

	if f.debounce > 0 {
		timer := time.NewTimer(f.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Stale, nil
		case <-timer.C:
		}
		if !f.current(gen) {
			f.staleCount.Add(ctx, 1)
			return Stale, nil
		}
	}

	q, err := f.quote(ctx, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.counter {
		f.staleCount.Add(ctx, 1)
		zctx.From(ctx).Debug("Discard stale quote", zap.Uint64("gen", gen))
		return Stale, nil
	}
	if err != nil {
		return Failed, err
	}
	apply(*q)
	return Applied, nil
}

func (f *Fetcher) current(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gen == f.counter
}

func (f *Fetcher) quote(ctx context.Context, req Request) (*Quote, error) {
	q, err := f.detailed.Quote(ctx, req)
	if err == nil {
		return q, nil
	}
	zctx.From(ctx).Warn("Detailed quote failed, falling back", zap.Error(err))
	f.fallbackCount.Add(ctx, 1)

	q, legacyErr := f.legacy.Quote(ctx, req)
	if legacyErr != nil {
		return nil, errors.Wrapf(legacyErr, "legacy quote after detailed failure: %v", err)
	}
	return q, nil
}
