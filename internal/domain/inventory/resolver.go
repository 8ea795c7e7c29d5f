// Package inventory clamps requested quantities to server-reported stock.
package inventory

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Availability is the inventory collaborator. It returns the remaining stock
// for each requested product; products absent from the result have none.
type Availability interface {
	Availability(ctx context.Context, productIDs []string) (map[string]int, error)
}

// Resolver asks the inventory collaborator for the true remaining stock and
// clamps a desired quantity to it. It keeps no state between calls.
type Resolver struct {
	inv Availability
}

// NewResolver creates a Resolver backed by the given inventory collaborator.
func NewResolver(inv Availability) *Resolver {
	return &Resolver{inv: inv}
}

// Resolve returns the quantity of productID that may be held in the cart.
// On success it is desired clamped to [0, available]. When the lookup fails it
// degrades to desired clamped to [0, fallbackMax] and never returns an error.
func (r *Resolver) Resolve(ctx context.Context, productID string, desired, fallbackMax int) int {
	stock, err := r.inv.Availability(ctx, []string{productID})
	if err != nil {
		zctx.From(ctx).Warn("Availability lookup failed, using fallback bound",
			zap.String("product_id", productID),
			zap.Int("fallback_max", fallbackMax),
			zap.Error(err),
		)
		return Clamp(desired, fallbackMax)
	}
	return Clamp(desired, stock[productID])
}

// Clamp limits qty to the range [0, upper]. A negative upper bound is treated
// as zero.
func Clamp(qty, upper int) int {
	upper = max(upper, 0)
	return min(max(qty, 0), upper)
}
