package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/orders"
	"posterly/internal/utils"
)

type Handler struct {
	Orders *orders.OrderService
	Logger *logger.Logger
}

// GetOrder returns one order with its line items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	order, err := h.Orders.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
			return
		}
		h.Logger.Error("ORDER", "Failed to load order: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load order", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Order", order))
}

// UpdateStatus moves an order through the fulfilment pipeline.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req models.OrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Orders.SetStatus(orderID, req.Status); err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
		case errors.Is(err, orders.ErrInvalidStatus):
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid order status", err.Error()))
		default:
			h.Logger.Error("ORDER", "Failed to update order status: "+err.Error())
			writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not update order status", err.Error()))
		}
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Order status updated", nil))
}

// ExportCSV streams all orders as a CSV download.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=orders-%s.csv", time.Now().Format("2006-01-02")))

	if err := h.Orders.ExportCSV(w); err != nil {
		// Headers may already be out; log and stop writing.
		h.Logger.Error("ORDER", "CSV export failed: "+err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
