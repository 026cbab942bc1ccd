package http

import (
	"context"
	"net/http"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
)

// GET /api/admin/orders?status=NEW
func (h *OrdersHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	raw := r.URL.Query().Get("status")
	if raw == "" {
		raw = string(domain.OrderStatusNew)
	}
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	orders, err := h.service.ListByStatus(ctx, status)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, views(orders))
}

// GET /api/admin/orders/{order_id}
func (h *OrdersHandler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetByID(ctx, orderID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, order.View())
}

// POST /api/admin/orders/{order_id}/confirm
func (h *OrdersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	var req contracts.ConfirmRequest
	// the body is optional
	if r.ContentLength != 0 && !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	order, err := h.service.Confirm(ctx, orderID, req.Comment)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, contracts.OrderEvent{Type: contracts.EventConfirmed, Order: order.View()})
}

// POST /api/admin/orders/{order_id}/cancel
func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	var req contracts.CancelRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	order, err := h.service.Cancel(ctx, orderID, req.Reason)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, contracts.OrderEvent{Type: contracts.EventCanceled, Order: order.View()})
}
