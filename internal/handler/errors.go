package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
	"github.com/xenking/storefront-checkout/internal/session"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// badRequestError is a malformed request body or parameter.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// unavailableError is a session that could not be resolved, usually because
// the server cart could not be adopted after an identity change.
type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return e.err.Error() }

func (e *unavailableError) Unwrap() error { return e.err }

var conflicts = []struct {
	err    error
	reason string
}{
	{checkout.ErrEmptyCart, "empty_cart"},
	{checkout.ErrNoAuthorization, "no_authorization"},
	{checkout.ErrConfirmInProgress, "confirm_in_progress"},
	{checkout.ErrCheckoutCompleted, "checkout_completed"},
	{checkout.ErrInvalidTransition, "invalid_transition"},
	{checkout.ErrInputsChanged, "inputs_changed"},
}

// mapError returns the response for err. ok is false for unexpected errors.
func mapError(err error) (resp errorResponse, ok bool) {
	var (
		badRequest  *badRequestError
		unavailable *unavailableError
		invalidAddr *address.ValidationError
		rejected    *coupon.RejectionError
		declined    *payment.DeclinedError
		authErr     *payment.AuthorizationError
	)

	switch {
	case errors.As(err, &badRequest):
		return errorResponse{Code: http.StatusBadRequest, Message: badRequest.msg, Reason: "bad_request"}, true
	case errors.Is(err, session.ErrMissingID):
		return errorResponse{Code: http.StatusBadRequest, Message: "X-Session-ID header is required", Reason: "missing_session"}, true
	case errors.As(err, &invalidAddr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: invalidAddr.Error(), Reason: invalidAddr.Field}, true
	case errors.As(err, &declined):
		return errorResponse{Code: http.StatusPaymentRequired, Message: declined.Message, Reason: "declined"}, true
	case errors.As(err, &authErr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Message: authErr.Reason, Reason: "authorization_rejected"}, true
	case errors.As(err, &rejected):
		code := http.StatusUnprocessableEntity
		if rejected.Reason == coupon.ReasonUnavailable {
			code = http.StatusServiceUnavailable
		}
		return errorResponse{Code: code, Message: rejected.Error(), Reason: string(rejected.Reason)}, true
	case errors.Is(err, checkout.ErrCouponRequiresAccount):
		return errorResponse{Code: http.StatusForbidden, Message: checkout.ErrCouponRequiresAccount.Error(), Reason: "account_required"}, true
	case errors.Is(err, cart.ErrInvalidQuantity):
		return errorResponse{Code: http.StatusBadRequest, Message: cart.ErrInvalidQuantity.Error(), Reason: "invalid_quantity"}, true
	case errors.Is(err, quote.ErrUnknownMethod):
		return errorResponse{Code: http.StatusBadRequest, Message: err.Error(), Reason: "unknown_shipping_method"}, true
	case errors.Is(err, cart.ErrLineNotFound):
		return errorResponse{Code: http.StatusNotFound, Message: cart.ErrLineNotFound.Error(), Reason: "line_not_found"}, true
	case errors.Is(err, product.ErrNotFound):
		return errorResponse{Code: http.StatusNotFound, Message: product.ErrNotFound.Error(), Reason: "product_not_found"}, true
	case errors.As(err, &unavailable):
		return errorResponse{Code: http.StatusServiceUnavailable, Message: "session temporarily unavailable", Reason: "session_unavailable"}, false
	}

	for _, c := range conflicts {
		if errors.Is(err, c.err) {
			return errorResponse{Code: http.StatusConflict, Message: c.err.Error(), Reason: c.reason}, true
		}
	}
	return errorResponse{Code: http.StatusInternalServerError, Message: "internal server error"}, false
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	resp, ok := mapError(err)
	if !ok {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	respondJSON(w, r, resp.Code, resp)
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zctx.From(r.Context()).Debug("Encode response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &badRequestError{msg: "invalid request body"}
	}
	return nil
}
