package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"posterly/internal/analytics"
	"posterly/internal/logger"
	"posterly/internal/utils"
)

type Handler struct {
	Analytics *analytics.Service
	Logger    *logger.Logger
}

// GetArtifactSales returns sales aggregates for one artifact.
func (h *Handler) GetArtifactSales(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "id")

	sales, err := h.Analytics.GetArtifactSales(r.Context(), artifactID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Artifact not found", err.Error()))
			return
		}
		h.Logger.Error("DATABASE", "Artifact sales query failed: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load sales data", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Artifact sales", sales))
}

// GetStoreSummary returns the admin order roll-up.
func (h *Handler) GetStoreSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Analytics.GetStoreSummary(r.Context())
	if err != nil {
		h.Logger.Error("DATABASE", "Store summary query failed: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load store summary", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Store summary", summary))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
