// Package consumer turns orders.new messages into inbox entries and live
// dashboard notifications.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
	"github.com/elizov/khpi-corporate-systems/pkg/realtime"
	"github.com/segmentio/kafka-go"
)

type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (*contracts.OrderView, error)
}

type Inbox interface {
	Materialize(ctx context.Context, order contracts.OrderView) (bool, error)
}

type NewOrderHandler struct {
	orders      OrderLookup
	inbox       Inbox
	broadcaster realtime.Broadcaster
	logger      *slog.Logger
}

func NewNewOrderHandler(orders OrderLookup, inbox Inbox, broadcaster realtime.Broadcaster, logger *slog.Logger) *NewOrderHandler {
	return &NewOrderHandler{orders: orders, inbox: inbox, broadcaster: broadcaster, logger: logger}
}

// Handle is a broker.Handler. The message only names the order; the current
// snapshot is always read back from orders-service.
func (h *NewOrderHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var created broker.OrderCreatedMessage
	if err := broker.Decode(msg.Value, &created); err != nil {
		return err
	}

	order, err := h.orders.GetOrder(ctx, created.OrderID)
	if errors.Is(err, orderclient.ErrNotFound) {
		return fmt.Errorf("%w: order %s not found", broker.ErrDropped, created.OrderID)
	}
	if err != nil {
		return fmt.Errorf("lookup order %s: %w", created.OrderID, err)
	}

	// already decided; its own event has been or will be broadcast
	if order.Status != "NEW" {
		h.logger.InfoContext(ctx, "order no longer pending, skipping",
			slog.String("order_id", order.ID),
			slog.String("status", order.Status),
		)
		return nil
	}

	materialized, err := h.inbox.Materialize(ctx, *order)
	if err != nil {
		return err
	}
	if !materialized {
		h.logger.DebugContext(ctx, "order already in inbox", slog.String("order_id", order.ID))
	}

	// re-announcing a redelivered order is harmless
	event := contracts.OrderEvent{Type: contracts.EventNew, Order: *order}
	if err := h.broadcaster.Broadcast(ctx, event); err != nil {
		h.logger.WarnContext(ctx, "realtime broadcast failed",
			slog.String("order_id", order.ID),
			slog.Any("error", err),
		)
	}
	return nil
}
