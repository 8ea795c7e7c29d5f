package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
	"github.com/xenking/storefront-checkout/internal/session"
)

func (h *Handler) respondCheckout(w http.ResponseWriter, r *http.Request, s *session.Session) {
	respondJSON(w, r, http.StatusOK, toCheckoutResponse(s.Checkout.Session()))
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	h.respondCheckout(w, r, s)
	return nil
}

func (h *Handler) setAddress(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req addressDTO
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.Checkout.SetAddress(r.Context(), req.toDomain()); err != nil {
		return err
	}
	h.respondCheckout(w, r, s)
	return nil
}

// setCoupon applies a coupon code; an empty code removes the coupon.
func (h *Handler) setCoupon(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req couponRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.Checkout.SetCoupon(r.Context(), req.Code); err != nil {
		return err
	}
	h.respondCheckout(w, r, s)
	return nil
}

func (h *Handler) setShippingMethod(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req shippingMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	method, err := quote.ParseMethod(req.Method)
	if err != nil {
		return err
	}
	if err := s.Checkout.SetShippingMethod(method); err != nil {
		return err
	}
	h.respondCheckout(w, r, s)
	return nil
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	if err := s.Checkout.Advance(r.Context()); err != nil {
		return err
	}
	h.respondCheckout(w, r, s)
	return nil
}

// back moves one phase back, or to the phase named in the optional body.
func (h *Handler) back(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req backRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
	}

	if req.To == "" {
		if err := s.Checkout.Back(r.Context()); err != nil {
			return err
		}
		h.respondCheckout(w, r, s)
		return nil
	}

	target, err := checkout.ParsePhase(req.To)
	if err != nil {
		return err
	}
	if err := s.Checkout.BackTo(r.Context(), target); err != nil {
		return err
	}
	h.respondCheckout(w, r, s)
	return nil
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	if _, err := s.Checkout.Authorize(r.Context()); err != nil {
		return err
	}
	h.respondCheckout(w, r, s)
	return nil
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Token == "" {
		return &badRequestError{msg: "token is required"}
	}

	err := s.Checkout.Confirm(r.Context(), payment.Details{
		Token:      req.Token,
		HolderName: req.HolderName,
	})
	if err != nil {
		return errors.Wrap(err, "confirm")
	}
	h.respondCheckout(w, r, s)
	return nil
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	if err := s.Checkout.Restart(); err != nil {
		return err
	}
	h.respondCheckout(w, r, s)
	return nil
}
