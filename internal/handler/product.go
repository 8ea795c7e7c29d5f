package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.respondError(w, r, errors.Wrap(err, "list products"))
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, h.toProductResponse(&products[i]))
	}
	respondJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, h.toProductResponse(p))
}
