// Package quote fetches shipping quotes for the checkout and discards
// responses overtaken by a newer request.
package quote

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/address"
)

// Method is a shipping method.
type Method string

const (
	MethodRegular Method = "REGULAR"
	MethodExpress Method = "EXPRESS"
)

// ErrUnknownMethod is returned by ParseMethod.
var ErrUnknownMethod = errors.New("unknown shipping method")

// ParseMethod parses a method name case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodRegular, MethodExpress:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// Parcel is the estimated package.
type Parcel struct {
	WeightGrams int
	LengthCM    int
	WidthCM     int
	HeightCM    int
}

// Quote holds the fees of both methods.
type Quote struct {
	Regular decimal.Decimal
	Express decimal.Decimal
	Parcel  *Parcel
}

// Fee returns the fee of method m.
func (q Quote) Fee(m Method) decimal.Decimal {
	if m == MethodExpress {
		return q.Express
	}
	return q.Regular
}

// Item is a cart line as seen by a quoter.
type Item struct {
	ProductID string
	Quantity  int
}

// Request is the input of a quote.
type Request struct {
	Address address.Address
	Items   []Item
}

// Quoter computes a quote.
type Quoter interface {
	Quote(ctx context.Context, req Request) (*Quote, error)
}

// Flat is a Quoter with fixed fees. It backs the simpler quote endpoint.
type Flat struct {
	Regular decimal.Decimal
	Express decimal.Decimal
}

// Quote implements Quoter.
func (f Flat) Quote(_ context.Context, req Request) (*Quote, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("no items to ship")
	}
	return &Quote{Regular: f.Regular, Express: f.Express}, nil
}
