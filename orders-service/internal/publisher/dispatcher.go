package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
)

// Sink is one destination for committed order events.
type Sink interface {
	Name() string
	Send(ctx context.Context, event domain.Event) error
}

// EventFilter is implemented by sinks that take only some event types. The
// dispatcher neither sends nor counts events a sink does not accept.
type EventFilter interface {
	Accepts(event domain.Event) bool
}

// Dispatcher delivers events to every sink on a single background worker,
// so events leave in the order they were committed. Each send is bounded
// by a timeout; failures are logged and dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan domain.Event
	timeout time.Duration
	metrics *metrics.OutboxMetrics
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sinks []Sink, buffer int, timeout time.Duration, m *metrics.OutboxMetrics, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan domain.Event, buffer),
		timeout: timeout,
		metrics: m,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue never blocks. A full buffer or a closed dispatcher drops the event.
func (d *Dispatcher) Enqueue(event domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, "dispatcher closed")
		return
	}
	select {
	case d.queue <- event:
	default:
		d.drop(event, "outbox buffer full")
	}
}

func (d *Dispatcher) drop(event domain.Event, reason string) {
	order := event.Snapshot()
	d.logger.Error("dropping order event",
		slog.String("reason", reason),
		slog.String("event_type", string(event.EventType())),
		slog.String("order_id", order.ID.String()),
	)
	for _, s := range d.sinks {
		d.metrics.Observe(s.Name(), metrics.OutboxDropped)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, s := range d.sinks {
			d.send(s, event)
		}
	}
}

func (d *Dispatcher) send(s Sink, event domain.Event) {
	if f, ok := s.(EventFilter); ok && !f.Accepts(event) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	order := event.Snapshot()
	err := s.Send(ctx, event)
	switch {
	case err == nil:
		d.metrics.Observe(s.Name(), metrics.OutboxSent)
		d.logger.Debug("order event sent",
			slog.String("sink", s.Name()),
			slog.String("event_type", string(event.EventType())),
			slog.String("order_id", order.ID.String()),
		)
	case errors.Is(err, broker.ErrUnroutable):
		d.metrics.Observe(s.Name(), metrics.OutboxUnroutable)
	default:
		d.metrics.Observe(s.Name(), metrics.OutboxFailed)
		d.logger.Error("order event send failed",
			slog.String("sink", s.Name()),
			slog.String("event_type", string(event.EventType())),
			slog.String("order_id", order.ID.String()),
			slog.Any("error", err),
		)
	}
}

// Close stops accepting events and waits for queued ones to be sent, or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
