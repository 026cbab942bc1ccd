package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/redis/go-redis/v9"
)

const subscriberBuffer = 8

// Hub fans events out to in-process subscribers. Sends never block: a
// subscriber that falls behind misses events instead of stalling the rest.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan contracts.OrderEvent]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{subs: make(map[chan contracts.OrderEvent]struct{}), logger: logger}
}

// Subscribe registers a new subscriber. The returned func must be called to
// release it.
func (h *Hub) Subscribe() (<-chan contracts.OrderEvent, func()) {
	ch := make(chan contracts.OrderEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast implements Broadcaster for single-process deployments and tests.
func (h *Hub) Broadcast(_ context.Context, event contracts.OrderEvent) error {
	h.publish(event)
	return nil
}

func (h *Hub) publish(event contracts.OrderEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("slow subscriber, event skipped",
				slog.String("type", event.Type),
				slog.String("order_id", event.Order.ID),
			)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Listen relays events from the Redis order topic into the hub until ctx is
// canceled. ready, if not nil, is closed once the subscription is confirmed.
func (h *Hub) Listen(ctx context.Context, client *redis.Client, ready chan<- struct{}) error {
	pubsub := client.Subscribe(ctx, contracts.RealtimeTopic)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			var event contracts.OrderEvent
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				h.logger.Warn("discarding malformed realtime event", slog.Any("error", err))
				continue
			}
			h.publish(event)
		}
	}
}
