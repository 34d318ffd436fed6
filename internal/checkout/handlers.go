package checkout

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/agrimarket-storefront/internal/common"
	"github.com/noah-isme/agrimarket-storefront/internal/lock"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/shipping"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

// Handler exposes the checkout computation and session endpoints.
type Handler struct {
	Svc *Service
}

type cartPayload struct {
	Items []pricing.LineItem `json:"items" validate:"dive"`
}

type createPayload struct {
	Items       []pricing.LineItem `json:"items" validate:"dive"`
	Destination string             `json:"destination" validate:"omitempty,max=64"`
}

type shippingPayload struct {
	Destination string `json:"destination" validate:"required,max=64"`
}

type overridePayload struct {
	Code         string `json:"code" validate:"required_without=None,max=64"`
	AllocationID string `json:"allocation_id" validate:"max=64"`
	None         bool   `json:"none"`
}

type submitPayload struct {
	Note string `json:"note" validate:"max=500"`
}

// Quote computes totals for a cart without a session. Anonymous callers get
// no owned vouchers.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if _, ok := common.UserID(r.Context()); !ok && req.Allocations == nil {
		req.Allocations = []voucher.Allocation{}
	}
	result, err := h.Svc.Quote(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, result)
}

// Create opens a checkout session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload createPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.Svc.Create(r.Context(), userID, payload.Items, payload.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, sess)
}

// Get returns a session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.respond(w)(h.Svc.Get(r.Context(), userID, chi.URLParam(r, "id")))
}

// UpdateItems replaces the cart lines of a session.
func (h *Handler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload cartPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	h.respond(w)(h.Svc.UpdateCart(r.Context(), userID, chi.URLParam(r, "id"), payload.Items))
}

// QuoteShipping quotes the delivery fee for a destination.
func (h *Handler) QuoteShipping(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload shippingPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	h.respond(w)(h.Svc.QuoteShipping(r.Context(), userID, chi.URLParam(r, "id"), payload.Destination))
}

// RefreshVouchers reloads the caller's owned vouchers into the session.
func (h *Handler) RefreshVouchers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.respond(w)(h.Svc.RefreshVouchers(r.Context(), userID, chi.URLParam(r, "id")))
}

// SetOverride pins a voucher, or switches the category off, manually.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	category, ok := voucher.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "category must be shop or ship", nil)
		return
	}
	var payload overridePayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	pick := &voucher.Pick{
		Code:         strings.TrimSpace(payload.Code),
		AllocationID: strings.TrimSpace(payload.AllocationID),
		None:         payload.None,
	}
	h.respond(w)(h.Svc.SetOverride(r.Context(), userID, chi.URLParam(r, "id"), category, pick))
}

// ClearOverride restores automatic selection for a category.
func (h *Handler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	category, ok := voucher.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "category must be shop or ship", nil)
		return
	}
	h.respond(w)(h.Svc.SetOverride(r.Context(), userID, chi.URLParam(r, "id"), category, nil))
}

// Submit places the order. The session in the answer carries the outcome.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload submitPayload
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &payload); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	sess, err := h.Svc.Submit(r.Context(), userID, chi.URLParam(r, "id"), payload.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if sess.State == StateConfirmed {
		status = http.StatusCreated
	}
	common.Data(w, status, sess)
}

// Abandon detaches the session from in-flight requests.
func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.respond(w)(h.Svc.Abandon(r.Context(), userID, chi.URLParam(r, "id")))
}

func (h *Handler) respond(w http.ResponseWriter) func(*Session, error) {
	return func(sess *Session, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		common.Data(w, http.StatusOK, sess)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return "", false
	}
	return userID, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "checkout session not found", nil)
	case errors.Is(err, ErrSubmitting):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_SUBMITTING", "an order is being placed for this checkout", nil)
	case errors.Is(err, ErrClosed):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_CLOSED", "this checkout has already been ordered", nil)
	case errors.Is(err, ErrNotReady):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_NOT_READY", "review the cart and shipping before placing the order", nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_BUSY", "checkout is being updated, please retry", nil)
	case errors.Is(err, ErrNothingSelected):
		common.JSONError(w, http.StatusUnprocessableEntity, "NOTHING_SELECTED", "select at least one item", nil)
	case errors.Is(err, ErrFeeUnknown):
		common.JSONError(w, http.StatusUnprocessableEntity, "SHIPPING_FEE_REQUIRED", "choose a delivery destination first", nil)
	case errors.Is(err, shipping.ErrDestinationRequired):
		common.JSONError(w, http.StatusUnprocessableEntity, "DESTINATION_REQUIRED", "destination is required", nil)
	case errors.Is(err, ErrShippingUnavailable):
		common.JSONError(w, http.StatusBadGateway, "SHIPPING_UNAVAILABLE", "delivery fee could not be quoted", nil)
	default:
		common.WriteError(w, err)
	}
}
