package publisher

import (
	"context"
	"fmt"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/realtime"
)

// MessageProducer is satisfied by *broker.Producer.
type MessageProducer interface {
	PublishToQueue(ctx context.Context, queue string, env broker.Envelope) error
	PublishToExchange(ctx context.Context, exchange, routingKey string, env broker.Envelope) error
}

// BrokerSink sends Created to orders.new and routes Confirmed and Canceled
// through the order.events exchange.
type BrokerSink struct {
	producer MessageProducer
}

func NewBrokerSink(p MessageProducer) *BrokerSink {
	return &BrokerSink{producer: p}
}

func (s *BrokerSink) Name() string { return "broker" }

func (s *BrokerSink) Send(ctx context.Context, event domain.Event) error {
	order := event.Snapshot()
	key := order.ID.String()

	switch e := event.(type) {
	case domain.OrderCreated:
		return s.producer.PublishToQueue(ctx, broker.QueueNewOrders, broker.Envelope{
			Key:       key,
			EventType: broker.EventOrderCreated,
			Payload:   CreatedMessage(e.Order),
		})
	case domain.OrderConfirmed:
		return s.producer.PublishToExchange(ctx, broker.ExchangeOrderEvents, broker.RoutingKeyConfirmed, broker.Envelope{
			Key:       key,
			EventType: broker.EventOrderConfirmed,
			Payload:   ConfirmedMessage(e),
		})
	case domain.OrderCanceled:
		return s.producer.PublishToExchange(ctx, broker.ExchangeOrderEvents, broker.RoutingKeyCanceled, broker.Envelope{
			Key:       key,
			EventType: broker.EventOrderCanceled,
			Payload:   CanceledMessage(e),
		})
	default:
		return fmt.Errorf("unsupported event type %s", event.EventType())
	}
}

func CreatedMessage(o domain.Order) broker.OrderCreatedMessage {
	items := make([]broker.OrderCreatedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, broker.OrderCreatedItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal,
		})
	}
	return broker.OrderCreatedMessage{
		OrderID:       o.ID.String(),
		Username:      o.Username(),
		Items:         items,
		TotalQuantity: o.TotalQuantity,
		TotalPrice:    o.TotalAmount,
		CreatedAt:     o.CreatedAt,
	}
}

func ConfirmedMessage(e domain.OrderConfirmed) broker.OrderConfirmedMessage {
	lines := make([]broker.OrderLine, 0, len(e.Order.Items))
	for _, it := range e.Order.Items {
		lines = append(lines, broker.OrderLine{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
		})
	}
	return broker.OrderConfirmedMessage{
		OrderID: e.Order.ID.String(),
		Comment: e.Comment,
		Items:   lines,
	}
}

func CanceledMessage(e domain.OrderCanceled) broker.OrderCanceledMessage {
	return broker.OrderCanceledMessage{
		OrderID:    e.Order.ID.String(),
		Reason:     e.Reason,
		LostAmount: e.LostAmount,
	}
}

// RealtimeSink pushes Confirmed and Canceled to dashboards. NEW is
// broadcast by the admin consumer once the order is in the staff inbox.
type RealtimeSink struct {
	broadcaster realtime.Broadcaster
}

func NewRealtimeSink(b realtime.Broadcaster) *RealtimeSink {
	return &RealtimeSink{broadcaster: b}
}

func (s *RealtimeSink) Name() string { return "realtime" }

func (s *RealtimeSink) Accepts(event domain.Event) bool {
	_, ok := realtimeType(event)
	return ok
}

func (s *RealtimeSink) Send(ctx context.Context, event domain.Event) error {
	eventType, ok := realtimeType(event)
	if !ok {
		return nil
	}
	order := event.Snapshot()
	return s.broadcaster.Broadcast(ctx, contracts.OrderEvent{Type: eventType, Order: order.View()})
}

func realtimeType(event domain.Event) (string, bool) {
	switch event.(type) {
	case domain.OrderConfirmed:
		return contracts.EventConfirmed, true
	case domain.OrderCanceled:
		return contracts.EventCanceled, true
	default:
		return "", false
	}
}
