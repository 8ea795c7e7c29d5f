// Package sandbox is a payment collaborator for development and tests. It
// accepts the well-known test card tokens.
package sandbox

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// Test card tokens.
const (
	TokenVisa     = "tok_visa"
	TokenDeclined = "tok_chargeDeclined"
)

// ErrUnknownSecret is returned for secrets not issued by the backend.
var ErrUnknownSecret = errors.New("unknown authorization secret")

// Orders looks up pending orders by client secret.
type Orders interface {
	FindBySecret(ctx context.Context, secret string) (*order.Order, error)
}

// Processor implements payment.Processor. Charging an already charged
// secret succeeds again.
type Processor struct {
	orders Orders

	mu      sync.Mutex
	charged map[string]bool
}

var _ payment.Processor = (*Processor)(nil)

// NewProcessor creates a sandbox Processor.
func NewProcessor(orders Orders) *Processor {
	return &Processor{orders: orders, charged: map[string]bool{}}
}

// Confirm implements payment.Processor.
func (p *Processor) Confirm(ctx context.Context, secret string, details payment.Details) error {
	o, err := p.orders.FindBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return ErrUnknownSecret
		}
		return errors.Wrap(err, "find order")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.charged[secret] {
		return nil
	}

	switch details.Token {
	case TokenVisa:
		p.charged[secret] = true
		zctx.From(ctx).Info("Sandbox charge",
			zap.String("order_id", o.ID),
			zap.String("amount", o.Total.StringFixed(2)),
		)
		return nil
	case TokenDeclined:
		return &payment.DeclinedError{Message: "Your card was declined."}
	default:
		return &payment.DeclinedError{Message: "Your card number is incorrect."}
	}
}
