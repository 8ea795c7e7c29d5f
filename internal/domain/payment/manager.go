package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ErrMissingSecret is returned by Confirm without an authorization secret.
var ErrMissingSecret = errors.New("authorization secret required")

// Telemetry holds the providers the manager reports to.
type Telemetry struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Manager is the payment session manager.
type Manager struct {
	authorizer Authorizer
	processor  Processor
	notifier   Notifier

	tracer   trace.Tracer
	begins   metric.Int64Counter
	outcomes metric.Int64Counter
}

// NewManager creates a Manager. Zero Telemetry falls back to no-op providers.
func NewManager(a Authorizer, p Processor, n Notifier, tel Telemetry) (*Manager, error) {
	if tel.MeterProvider == nil {
		tel.MeterProvider = metricnoop.NewMeterProvider()
	}
	if tel.TracerProvider == nil {
		tel.TracerProvider = tracenoop.NewTracerProvider()
	}
	meter := tel.MeterProvider.Meter("payment")

	m := &Manager{
		authorizer: a,
		processor:  p,
		notifier:   n,
		tracer:     tel.TracerProvider.Tracer("payment"),
	}

	var err error
	if m.begins, err = meter.Int64Counter("checkout.payment.begins",
		metric.WithDescription("Payment authorizations requested"),
	); err != nil {
		return nil, errors.Wrap(err, "begins counter")
	}
	if m.outcomes, err = meter.Int64Counter("checkout.payment.outcomes",
		metric.WithDescription("Payment confirmations by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "outcomes counter")
	}
	return m, nil
}

// Begin creates a new authorization for in. A previous authorization is
// simply abandoned; the payment collaborator expires it.
func (m *Manager) Begin(ctx context.Context, in Inputs) (*Authorization, error) {
	ctx, span := m.tracer.Start(ctx, "payment.Begin",
		trace.WithAttributes(
			attribute.String("shipping_method", string(in.ShippingMethod)),
			attribute.Bool("coupon", in.CouponCode != ""),
			attribute.Int("items", len(in.Items)),
		),
	)
	defer span.End()

	auth, err := m.authorizer.CreateAuthorization(ctx, in)
	m.begins.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", err == nil)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create authorization")
		return nil, errors.Wrap(err, "create authorization")
	}
	span.SetAttributes(attribute.String("authorization_id", auth.ID))
	return auth, nil
}

// Confirm charges the authorization. On success the backend is notified on a
// best-effort basis; the payment webhook remains the source of truth.
func (m *Manager) Confirm(ctx context.Context, auth *Authorization, details Details) error {
	if auth == nil || auth.Secret == "" {
		return ErrMissingSecret
	}

	ctx, span := m.tracer.Start(ctx, "payment.Confirm",
		trace.WithAttributes(attribute.String("authorization_id", auth.ID)),
	)
	defer span.End()

	if err := m.processor.Confirm(ctx, auth.Secret, details); err != nil {
		outcome := "error"
		var declined *DeclinedError
		if errors.As(err, &declined) {
			outcome = "declined"
		}
		m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return errors.Wrap(err, "confirm payment")
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "paid")))

	if err := m.notifier.Finalize(ctx, auth.ID); err != nil {
		zctx.From(ctx).Warn("Finalize notification failed",
			zap.String("authorization_id", auth.ID),
			zap.Error(err),
		)
	}
	return nil
}
