package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront-checkout/internal/session"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	respondJSON(w, r, http.StatusOK, toCartResponse(s.Cart.State()))
	return nil
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return &badRequestError{msg: "product_id is required"}
	}

	if err := s.Cart.Add(r.Context(), productID, req.Quantity, nil); err != nil {
		return err
	}
	respondJSON(w, r, http.StatusOK, toCartResponse(s.Cart.State()))
	return nil
}

// updateItem sets the quantity of a line; zero removes it.
func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Quantity < 0 {
		return &badRequestError{msg: "quantity must not be negative"}
	}

	if err := s.Cart.Update(r.Context(), chi.URLParam(r, "lineID"), req.Quantity); err != nil {
		return err
	}
	respondJSON(w, r, http.StatusOK, toCartResponse(s.Cart.State()))
	return nil
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	if err := s.Cart.Remove(r.Context(), chi.URLParam(r, "lineID")); err != nil {
		return err
	}
	respondJSON(w, r, http.StatusOK, toCartResponse(s.Cart.State()))
	return nil
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	if err := s.EmptyCart(r.Context()); err != nil {
		return err
	}
	respondJSON(w, r, http.StatusOK, toCartResponse(s.Cart.State()))
	return nil
}

func (h *Handler) setDrawer(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req drawerRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Open {
		s.Cart.OpenDrawer()
	} else {
		s.Cart.CloseDrawer()
	}
	respondJSON(w, r, http.StatusOK, toCartResponse(s.Cart.State()))
	return nil
}
