// Package handler exposes the session cart and checkout over HTTP.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront-checkout/internal/domain/identity"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/session"
)

// Request headers set by the upstream gateway.
const (
	HeaderSessionID = "X-Session-ID"
	HeaderAccountID = "X-Account-ID"
)

// Sessions resolves the session of a request.
type Sessions interface {
	Get(ctx context.Context, id string, ident identity.Identity) (*session.Session, error)
}

// Catalog lists the products on sale.
type Catalog interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler serves the storefront API.
type Handler struct {
	sessions     Sessions
	products     Catalog
	imageBaseURL string
}

// New constructs a Handler.
func New(cfg Config, sessions Sessions, products Catalog) *Handler {
	return &Handler{
		sessions:     sessions,
		products:     products,
		imageBaseURL: strings.TrimSuffix(cfg.ImageBaseURL, "/"),
	}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{productID}", h.getProduct)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.withSession(h.getCart))
			r.Delete("/", h.withSession(h.clearCart))
			r.Post("/items", h.withSession(h.addItem))
			r.Patch("/items/{lineID}", h.withSession(h.updateItem))
			r.Delete("/items/{lineID}", h.withSession(h.removeItem))
			r.Put("/drawer", h.withSession(h.setDrawer))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", h.withSession(h.getCheckout))
			r.Put("/address", h.withSession(h.setAddress))
			r.Put("/coupon", h.withSession(h.setCoupon))
			r.Put("/shipping-method", h.withSession(h.setShippingMethod))
			r.Post("/advance", h.withSession(h.advance))
			r.Post("/back", h.withSession(h.back))
			r.Post("/authorize", h.withSession(h.authorize))
			r.Post("/confirm", h.withSession(h.confirm))
			r.Post("/restart", h.withSession(h.restart))
		})
	})
}

type sessionFunc func(w http.ResponseWriter, r *http.Request, s *session.Session) error

// withSession resolves the session of the request before calling fn and
// writes any returned error.
func (h *Handler) withSession(fn sessionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.session(r)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if err := fn(w, r, s); err != nil {
			h.respondError(w, r, err)
		}
	}
}

func (h *Handler) session(r *http.Request) (*session.Session, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	ident := identity.Guest()
	if account := strings.TrimSpace(r.Header.Get(HeaderAccountID)); account != "" {
		ident = identity.Account(account)
	}

	s, err := h.sessions.Get(r.Context(), id, ident)
	if err != nil {
		if id == "" {
			return nil, err
		}
		return nil, &unavailableError{err: err}
	}
	return s, nil
}
