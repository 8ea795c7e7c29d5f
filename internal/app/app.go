package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/sandbox"
	"github.com/xenking/storefront-checkout/internal/session"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	prices, err := cfg.pricing()
	if err != nil {
		return err
	}
	flat := quote.Flat{Regular: prices.flatRegular, Express: prices.flatExpress}

	b, err := newBackend(ctx, lg, cfg, flat)
	if err != nil {
		return errors.Wrap(err, "init backend")
	}
	defer b.Close()

	healthSvc := health.New()
	for name, p := range b.pingers {
		healthSvc.Register(health.Readiness, name, health.Ping(p), health.Options{Timeout: 5 * time.Second})
	}
	healthSvc.Register(health.Liveness, "goroutines", health.GoroutineLimit(50000), health.Options{})

	orderService := order.NewService(
		b.products,
		b.inventory,
		coupon.NewRepoValidator(b.coupons),
		b.coupons,
		b.shipping,
		flat,
		b.orders,
		order.Config{TaxRate: prices.taxRate},
	)
	payments, err := payment.NewManager(orderService, sandbox.NewProcessor(b.orders), orderService, payment.Telemetry{
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create payment manager")
	}

	registry, err := session.NewRegistry(ctx, session.Deps{
		Catalog:  b.products,
		Resolver: inventory.NewResolver(b.inventory),
		Server:   b.carts,
		Guest:    b.guest,
		Coupons:  coupon.NewChecker(coupon.NewRepoEligibility(b.coupons)),
		Detailed: b.shipping,
		Legacy:   flat,
		Payments: payments,
		Meter:    m.MeterProvider().Meter("storefront"),
	}, session.Config{
		IdleTTL:          cfg.Session.IdleTTL,
		SweepInterval:    cfg.Session.SweepInterval,
		QuoteDebounce:    cfg.Session.QuoteDebounce,
		MergeConcurrency: cfg.Session.MergeConcurrency,
		Cart:             cart.Options{FallbackMax: cfg.Checkout.FallbackMax},
		Checkout: checkout.Config{
			SlowNoticeAfter: cfg.Checkout.SlowNoticeAfter,
			TaxEstimateRate: prices.taxEstimateRate,
		},
	})
	if err != nil {
		return errors.Wrap(err, "create session registry")
	}

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Rate:    cfg.RateLimit.Rate,
		Burst:   cfg.RateLimit.Burst,
		IdleTTL: cfg.RateLimit.IdleTTL,
		KeyFunc: httpmiddleware.SessionKey(handler.HeaderSessionID),
	})

	h := handler.New(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, registry, b.products)
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.Live)
	router.Get("/readyz", healthSvc.Readyz)
	router.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())
		h.Mount(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(router, "storefront-bff",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx), handler.HeaderSessionID),
			httpmiddleware.Recovery(),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthSvc.Run(gctx, 10*time.Second) })
	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: fail readiness, drain, then stop the server.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}
