// Package publisher announces committed order changes to the broker and to
// live dashboards.
package publisher

import (
	"context"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/transaction"
)

// Publisher is what the lifecycle service depends on.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// Outbox binds a publish to the transaction in ctx. The event reaches the
// dispatcher only once that transaction commits and is forgotten on
// rollback. Without a transaction the event is dispatched right away.
type Outbox struct {
	dispatcher *Dispatcher
}

func NewOutbox(d *Dispatcher) *Outbox {
	return &Outbox{dispatcher: d}
}

func (o *Outbox) Publish(ctx context.Context, event domain.Event) {
	deliver := func() { o.dispatcher.Enqueue(event) }
	if !transaction.RegisterAfterCommit(ctx, deliver) {
		deliver()
	}
}

var _ Publisher = (*Outbox)(nil)
