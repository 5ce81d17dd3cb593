package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"posterly/internal/auth"
	"posterly/internal/inventory"
	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/utils"
)

type Handler struct {
	Inventory *inventory.InventoryService
	Logger    *logger.Logger
}

// PublishArtifact makes an artifact sellable as a limited edition. Only the
// owner may publish; supply and price are fixed on first call.
func (h *Handler) PublishArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "id")

	var req models.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	artifact, err := h.Inventory.Artifact(artifactID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Artifact not found", err.Error()))
		return
	}
	if email := auth.Email(r.Context()); email != "" && email != artifact.OwnerEmail {
		http.Error(w, "only the owner can publish an artifact", http.StatusForbidden)
		return
	}

	published, err := h.Inventory.Publish(artifactID, req.TotalSupply, req.PricePerUnit)
	if err != nil {
		switch {
		case errors.Is(err, inventory.ErrInvalidSupply):
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid supply or price", err.Error()))
		case errors.Is(err, inventory.ErrAlreadyPublished):
			writeJSON(w, http.StatusConflict, utils.ErrorResponse("Artifact already published", err.Error()))
		case errors.Is(err, inventory.ErrNotFound):
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Artifact not found", err.Error()))
		default:
			h.Logger.Error("INVENTORY", "Failed to publish artifact: "+err.Error())
			writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not publish artifact", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Artifact published", published))
}

// GetArtifact returns one artifact.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "id")
	artifact, err := h.Inventory.Artifact(artifactID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Artifact not found", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Artifact", artifact))
}

// SetSoldCount is the admin override for reconciliation after manual refunds.
func (h *Handler) SetSoldCount(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "id")

	var req struct {
		SoldCount int `json:"sold_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Inventory.SetSoldCount(artifactID, req.SoldCount); err != nil {
		if errors.Is(err, inventory.ErrInvalidCount) {
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Sold count out of range", err.Error()))
			return
		}
		h.Logger.Error("INVENTORY", "Failed to override sold count: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not override sold count", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Sold count updated", nil))
}

// ReviewArtifact resolves a pending public artifact.
func (h *Handler) ReviewArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "id")

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Inventory.Review(artifactID, req.Approve); err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Artifact not found", err.Error()))
			return
		}
		h.Logger.Error("INVENTORY", "Failed to review artifact: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not review artifact", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Review resolved", nil))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
