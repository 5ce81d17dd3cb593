package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"posterly/internal/auth"
	"posterly/internal/credits"
	"posterly/internal/logger"
	"posterly/internal/utils"
)

type Handler struct {
	Credits *credits.CreditService
	Logger  *logger.Logger
}

// GetBalance returns the caller's remaining generation credits.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	email := auth.Email(r.Context())
	if email == "" {
		http.Error(w, "no email claim in token", http.StatusUnauthorized)
		return
	}

	balance, err := h.Credits.CheckBalance(email)
	if err != nil {
		h.Logger.Error("CREDITS", "Failed to check balance: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load balance", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Balance", balance))
}

// UseCredit burns one credit for the caller.
func (h *Handler) UseCredit(w http.ResponseWriter, r *http.Request) {
	email := auth.Email(r.Context())
	if email == "" {
		http.Error(w, "no email claim in token", http.StatusUnauthorized)
		return
	}

	if err := h.Credits.TryConsume(email); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			writeJSON(w, http.StatusPaymentRequired, utils.ErrorResponse("Out of credits", err.Error()))
			return
		}
		h.Logger.Error("CREDITS", "Failed to consume credit: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not consume credit", err.Error()))
		return
	}

	balance, err := h.Credits.CheckBalance(email)
	if err != nil {
		writeJSON(w, http.StatusOK, utils.SuccessResponse("Credit consumed", nil))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Credit consumed", balance))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
