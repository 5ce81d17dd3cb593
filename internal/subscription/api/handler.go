package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"posterly/internal/auth"
	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/subscription"
	"posterly/internal/utils"
)

type Handler struct {
	Subscriptions *subscription.SubscriptionService
	Logger        *logger.Logger
}

// CreateSubscription starts signup for the caller, optionally with a promo
// code.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	email := auth.Email(r.Context())
	if email == "" {
		http.Error(w, "no email claim in token", http.StatusUnauthorized)
		return
	}

	var req models.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Email = email

	resp, err := h.Subscriptions.Start(req)
	if err != nil {
		if errors.Is(err, subscription.ErrInvalidPromo) {
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Unknown promo code", err.Error()))
			return
		}
		h.Logger.Error("SUBSCRIPTION", "Failed to start subscription: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not start subscription", err.Error()))
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Subscription signup started", resp))
}

// ConfirmSubscription finishes signup once the payment method is attached.
func (h *Handler) ConfirmSubscription(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SetupIntentRef == "" {
		http.Error(w, "setup_intent_ref is required", http.StatusBadRequest)
		return
	}

	sub, err := h.Subscriptions.Confirm(req.SetupIntentRef)
	if err != nil {
		h.Logger.Error("SUBSCRIPTION", "Failed to confirm subscription: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not confirm subscription", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Subscription active", sub))
}

// CancelSubscription flags the caller's subscription to lapse at period end.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	email := auth.Email(r.Context())
	if email == "" {
		http.Error(w, "no email claim in token", http.StatusUnauthorized)
		return
	}

	sub, err := h.Subscriptions.Cancel(email)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrNotSubscribed):
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("No subscription on record", err.Error()))
		case errors.Is(err, subscription.ErrAlreadyCanceled):
			writeJSON(w, http.StatusConflict, utils.ErrorResponse("Subscription already canceled", err.Error()))
		default:
			h.Logger.Error("SUBSCRIPTION", "Failed to cancel subscription: "+err.Error())
			writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not cancel subscription", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Subscription will end at period end", sub))
}

// GetSubscription returns the caller's current subscription, if any.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	email := auth.Email(r.Context())
	if email == "" {
		http.Error(w, "no email claim in token", http.StatusUnauthorized)
		return
	}

	sub, err := h.Subscriptions.Current(email)
	if err != nil {
		h.Logger.Error("SUBSCRIPTION", "Failed to load subscription: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load subscription", err.Error()))
		return
	}
	if sub == nil {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("No subscription on record", ""))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Subscription", sub))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
