// Package board keeps the staff review inbox: new orders that were announced
// on orders.new and are still waiting for a confirm or cancel decision.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/redis/go-redis/v9"
)

type Inbox interface {
	// Materialize stores the order unless it is already present. It reports
	// whether a new entry was written.
	Materialize(ctx context.Context, order contracts.OrderView) (bool, error)
	// List returns pending orders, oldest first.
	List(ctx context.Context) ([]contracts.OrderView, error)
	Remove(ctx context.Context, orderID string) error
}

var ErrInvalidOrder = errors.New("invalid inbox order")

const (
	ordersKey = "admin:inbox:orders" // hash order id -> order view
	queueKey  = "admin:inbox:queue"  // sorted set scored by created_at
)

type RedisInbox struct {
	client *redis.Client
}

func NewRedisInbox(client *redis.Client) *RedisInbox {
	return &RedisInbox{client: client}
}

func (b *RedisInbox) Materialize(ctx context.Context, order contracts.OrderView) (bool, error) {
	if order.ID == "" {
		return false, fmt.Errorf("%w: empty id", ErrInvalidOrder)
	}
	data, err := json.Marshal(order)
	if err != nil {
		return false, fmt.Errorf("marshal order failed: %w", err)
	}

	created, err := b.client.HSetNX(ctx, ordersKey, order.ID, data).Result()
	if err != nil {
		return false, fmt.Errorf("redis hsetnx failed: %w", err)
	}
	// The queue entry is written even for a known order so a crash between
	// the two writes heals on redelivery.
	if err := b.client.ZAddNX(ctx, queueKey, redis.Z{Score: score(order), Member: order.ID}).Err(); err != nil {
		return false, fmt.Errorf("redis zadd failed: %w", err)
	}
	return created, nil
}

func (b *RedisInbox) List(ctx context.Context) ([]contracts.OrderView, error) {
	ids, err := b.client.ZRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}
	out := make([]contracts.OrderView, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	values, err := b.client.HMGet(ctx, ordersKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget failed: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// queue entry without a body, left behind by a partial Remove
			b.client.ZRem(ctx, queueKey, ids[i])
			continue
		}
		var order contracts.OrderView
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, fmt.Errorf("unmarshal order %s failed: %w", ids[i], err)
		}
		out = append(out, order)
	}
	return out, nil
}

func (b *RedisInbox) Remove(ctx context.Context, orderID string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, ordersKey, orderID)
		pipe.ZRem(ctx, queueKey, orderID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remove failed: %w", err)
	}
	return nil
}

// Stale lists entries created before cutoff whose id is not in pending.
// Younger entries are left out because pending may have been read before
// they were committed.
func (b *RedisInbox) Stale(ctx context.Context, pending []string, cutoff time.Time) ([]string, error) {
	keep := make(map[string]struct{}, len(pending))
	for _, id := range pending {
		keep[id] = struct{}{}
	}

	ids, err := b.client.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.UnixMicro()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}
	stale := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

func score(order contracts.OrderView) float64 {
	t, err := time.Parse(time.RFC3339, order.CreatedAt)
	if err != nil {
		t = time.Now()
	}
	return float64(t.UnixMicro())
}
