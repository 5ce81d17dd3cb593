package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"posterly/internal/auth"
	"posterly/internal/credits"
	"posterly/internal/generation"
	"posterly/internal/logger"
	"posterly/internal/utils"
)

type Handler struct {
	Generation *generation.GenerationService
	Logger     *logger.Logger
}

// Generate runs the metered poster-generation flow for the caller.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	email := auth.Email(r.Context())
	if email == "" {
		http.Error(w, "no email claim in token", http.StatusUnauthorized)
		return
	}

	var req generation.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ImageURL == "" {
		http.Error(w, "image_url is required", http.StatusBadRequest)
		return
	}

	artifact, err := h.Generation.Generate(r.Context(), email, req)
	if err != nil {
		switch {
		case errors.Is(err, generation.ErrNoCredits), errors.Is(err, credits.ErrInsufficientCredits):
			writeJSON(w, http.StatusPaymentRequired, utils.ErrorResponse("Out of credits", err.Error()))
		default:
			h.Logger.Error("GENERATION", "Generation failed: "+err.Error())
			writeJSON(w, http.StatusBadGateway, utils.ErrorResponse("Generation failed", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Poster generated", artifact))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
