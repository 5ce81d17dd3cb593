package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"posterly/internal/checkout"
	"posterly/internal/inventory"
	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/utils"
)

type Handler struct {
	Checkout *checkout.CheckoutService
	Webhook  *checkout.WebhookHandler
	Logger   *logger.Logger
}

// PrepareCheckout opens a session: reserves editions, creates the payment
// intent and returns the confirmation ID plus client secret.
func (h *Handler) PrepareCheckout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.Checkout.StartCheckout(req)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidShipping):
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid checkout request", err.Error()))
		case errors.Is(err, inventory.ErrSoldOut):
			writeJSON(w, http.StatusConflict, utils.ErrorResponse("Edition sold out", err.Error()))
		case errors.Is(err, inventory.ErrNotFound):
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Unknown artifact in cart", err.Error()))
		default:
			h.Logger.Error("CHECKOUT", "Failed to prepare checkout: "+err.Error())
			writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not prepare checkout", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Checkout prepared", resp))
}

// CompleteOrder is the client-driven confirmation path. The webhook is the
// authoritative one; both funnel into the same idempotent confirm.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ConfirmationID == "" {
		http.Error(w, "confirmation_id is required", http.StatusBadRequest)
		return
	}

	order, err := h.Checkout.OnPaymentConfirmed(req.ConfirmationID, req.PaymentRef, utils.Cents(req.AmountReceived))
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrNotFound):
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Unknown checkout session", err.Error()))
		case errors.Is(err, checkout.ErrSessionExpired):
			writeJSON(w, http.StatusGone, utils.ErrorResponse("Checkout session expired", err.Error()))
		case errors.Is(err, checkout.ErrPaymentMismatch):
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Payment does not match session", err.Error()))
		default:
			h.Logger.Error("CHECKOUT", "Failed to complete order: "+err.Error())
			writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not complete order", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Order confirmed", order))
}

// CancelCheckout abandons a session on explicit user request.
func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfirmationID string `json:"confirmation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ConfirmationID == "" {
		http.Error(w, "confirmation_id is required", http.StatusBadRequest)
		return
	}

	if err := h.Checkout.Cancel(req.ConfirmationID); err != nil {
		if errors.Is(err, checkout.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Unknown checkout session", err.Error()))
			return
		}
		h.Logger.Error("CHECKOUT", "Failed to cancel checkout: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not cancel checkout", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Checkout cancelled", nil))
}

// StripeWebhook receives provider events. Signature failures and processing
// errors map onto the categorized webhook error.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.Webhook.HandleStripeWebhook(r); err != nil {
		var webhookErr *checkout.WebhookError
		if errors.As(err, &webhookErr) {
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
