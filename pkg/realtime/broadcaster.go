// Package realtime pushes order events to connected dashboards.
//
// Producers PUBLISH {type, order} envelopes on a Redis channel. Every
// admin-service replica subscribes and fans the events out to its own SSE
// clients through a Hub. Delivery is best effort: a client that is not
// connected when an event is published never sees it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/redis/go-redis/v9"
)

// Broadcaster sends an event to every live subscriber of the order topic.
type Broadcaster interface {
	Broadcast(ctx context.Context, event contracts.OrderEvent) error
}

type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: contracts.RealtimeTopic}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, event contracts.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event failed: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}
