package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

// Orders is the part of the order client the dashboard needs.
type Orders interface {
	ListByStatus(ctx context.Context, status string) ([]contracts.OrderView, error)
	Confirm(ctx context.Context, orderID, comment string) (*contracts.OrderEvent, error)
	Cancel(ctx context.Context, orderID, reason string) (*contracts.OrderEvent, error)
}

type Inbox interface {
	List(ctx context.Context) ([]contracts.OrderView, error)
	Remove(ctx context.Context, orderID string) error
}

type DashboardHandler struct {
	orders   Orders
	inbox    Inbox
	validate *validator.Validate
	timeout  time.Duration
	logger   *slog.Logger
}

func NewDashboardHandler(orders Orders, inbox Inbox, timeout time.Duration, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		orders:   orders,
		inbox:    inbox,
		validate: newValidator(),
		timeout:  timeout,
		logger:   logger,
	}
}

// GET /api/dashboard
//
// Clients load the snapshot on connect and then apply realtime events on
// top of it.
func (h *DashboardHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var snap contracts.DashboardSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.NewOrders, err = h.orders.ListByStatus(gctx, contracts.EventNew)
		return err
	})
	g.Go(func() (err error) {
		snap.ConfirmedOrders, err = h.orders.ListByStatus(gctx, contracts.EventConfirmed)
		return err
	})
	g.Go(func() (err error) {
		snap.CanceledOrders, err = h.orders.ListByStatus(gctx, contracts.EventCanceled)
		return err
	})
	if err := g.Wait(); err != nil {
		handleClientError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GET /api/dashboard/inbox
func (h *DashboardHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.inbox.List(ctx)
	if err != nil {
		handleClientError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// POST /api/orders/{order_id}/confirm
func (h *DashboardHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	var req contracts.ConfirmRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	event, err := h.orders.Confirm(ctx, orderID, req.Comment)
	if err != nil {
		handleClientError(w, r, h.logger, err)
		return
	}
	h.dismiss(ctx, orderID)
	respondJSON(w, http.StatusOK, event)
}

// POST /api/orders/{order_id}/cancel
func (h *DashboardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	var req contracts.CancelRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	event, err := h.orders.Cancel(ctx, orderID, req.Reason)
	if err != nil {
		handleClientError(w, r, h.logger, err)
		return
	}
	h.dismiss(ctx, orderID)
	respondJSON(w, http.StatusOK, event)
}

// dismiss removes a decided order from the inbox. The decision is already
// committed, so a failure here is only logged; the reconciler catches up.
func (h *DashboardHandler) dismiss(ctx context.Context, orderID string) {
	if err := h.inbox.Remove(ctx, orderID); err != nil {
		h.logger.WarnContext(ctx, "failed to remove order from inbox",
			slog.String("order_id", orderID),
			slog.Any("error", err),
		)
	}
}
