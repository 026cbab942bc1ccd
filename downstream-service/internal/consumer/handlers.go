// Package consumer applies routed lifecycle events to the downstream sinks.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elizov/khpi-corporate-systems/downstream-service/internal/sink"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
	"github.com/segmentio/kafka-go"
)

type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (*contracts.OrderView, error)
}

type Handlers struct {
	orders OrderLookup
	store  sink.Store
	now    func() time.Time
	logger *slog.Logger
}

func NewHandlers(orders OrderLookup, store sink.Store, logger *slog.Logger) *Handlers {
	return &Handlers{orders: orders, store: store, now: time.Now, logger: logger}
}

// Procurement consumes orders.confirmed. The order's current status does not
// matter: a later cancel or re-confirm does not undo the confirmation that
// happened, and the sink keeps the first record per order.
func (h *Handlers) Procurement(ctx context.Context, msg kafka.Message) error {
	var confirmed broker.OrderConfirmedMessage
	if err := broker.Decode(msg.Value, &confirmed); err != nil {
		return err
	}
	order, err := h.lookup(ctx, confirmed.OrderID)
	if err != nil {
		return err
	}

	lines := make([]sink.ProcurementLine, 0, len(confirmed.Items))
	for _, it := range confirmed.Items {
		lines = append(lines, sink.ProcurementLine{ProductID: it.ProductID, ProductName: it.ProductName, Quantity: it.Quantity})
	}
	inserted, err := h.store.RecordProcurement(ctx, sink.ProcurementRequest{
		OrderID:    order.ID,
		EventID:    broker.Header(msg, broker.HeaderEventID),
		Comment:    confirmed.Comment,
		Items:      lines,
		ReceivedAt: h.now().UTC(),
	})
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "procurement request recorded",
		slog.String("order_id", order.ID),
		slog.Bool("new", inserted),
	)
	return nil
}

// Quality consumes orders.canceled.
func (h *Handlers) Quality(ctx context.Context, msg kafka.Message) error {
	var canceled broker.OrderCanceledMessage
	if err := broker.Decode(msg.Value, &canceled); err != nil {
		return err
	}
	order, err := h.lookup(ctx, canceled.OrderID)
	if err != nil {
		return err
	}

	inserted, err := h.store.RecordQualityReport(ctx, sink.QualityReport{
		OrderID:      order.ID,
		EventID:      broker.Header(msg, broker.HeaderEventID),
		Reason:       canceled.Reason,
		LostAmount:   canceled.LostAmount.StringFixed(2),
		CustomerName: order.CustomerName,
		ReceivedAt:   h.now().UTC(),
	})
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "quality report recorded",
		slog.String("order_id", order.ID),
		slog.String("lost_amount", canceled.LostAmount.StringFixed(2)),
		slog.Bool("new", inserted),
	)
	return nil
}

func (h *Handlers) lookup(ctx context.Context, orderID string) (*contracts.OrderView, error) {
	order, err := h.orders.GetOrder(ctx, orderID)
	if errors.Is(err, orderclient.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s not found", broker.ErrDropped, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}
	return order, nil
}
