package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/elizov/khpi-corporate-systems/admin-service/internal/board"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/logger"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
	"github.com/elizov/khpi-corporate-systems/pkg/realtime"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// flakyLookup answers NotFound for the first misses calls, then the order.
type flakyLookup struct {
	mu     sync.Mutex
	order  contracts.OrderView
	misses int
	err    error
	calls  int
}

func (f *flakyLookup) GetOrder(_ context.Context, orderID string) (*contracts.OrderView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.misses || orderID != f.order.ID {
		return nil, fmt.Errorf("%w: %s", orderclient.ErrNotFound, orderID)
	}
	o := f.order
	return &o, nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []contracts.OrderEvent
	err    error
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, e contracts.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

type sliceReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (s *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func (s *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *sliceReader) Close() error { return nil }

// --- helpers ---

func newInbox(t *testing.T) *board.RedisInbox {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return board.NewRedisInbox(client)
}

func pendingOrder() contracts.OrderView {
	return contracts.OrderView{
		ID:         "7f1c7c9e-2a43-4c55-9c57-6d9a3c1c0a01",
		Status:     "NEW",
		TotalPrice: "25.50",
		CreatedAt:  time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func createdMessage(t *testing.T, orderID string, offset int64) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(broker.OrderCreatedMessage{OrderID: orderID, Username: "Ann Smith"})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(orderID), Value: payload, Offset: offset}
}

// --- tests ---

func TestHandle_MaterializesAndBroadcasts(t *testing.T) {
	inbox := newInbox(t)
	lookup := &flakyLookup{order: pendingOrder()}
	bc := &recordingBroadcaster{}
	h := NewNewOrderHandler(lookup, inbox, bc, logger.Discard())

	require.NoError(t, h.Handle(context.Background(), createdMessage(t, lookup.order.ID, 1)))

	orders, err := inbox.List(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, lookup.order.ID, orders[0].ID)

	require.Len(t, bc.events, 1)
	assert.Equal(t, contracts.EventNew, bc.events[0].Type)
	assert.Equal(t, "25.50", bc.events[0].Order.TotalPrice)
}

func TestHandle_AbsentOrderIsDropped(t *testing.T) {
	lookup := &flakyLookup{order: pendingOrder(), misses: 1}
	bc := &recordingBroadcaster{}
	h := NewNewOrderHandler(lookup, newInbox(t), bc, logger.Discard())

	err := h.Handle(context.Background(), createdMessage(t, lookup.order.ID, 1))
	assert.True(t, errors.Is(err, broker.ErrDropped))
	assert.Empty(t, bc.events)
}

func TestHandle_MalformedPayload(t *testing.T) {
	h := NewNewOrderHandler(&flakyLookup{}, newInbox(t), &recordingBroadcaster{}, logger.Discard())
	err := h.Handle(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.True(t, errors.Is(err, broker.ErrDecode))
}

func TestHandle_LookupUnavailableIsRetryable(t *testing.T) {
	lookup := &flakyLookup{err: fmt.Errorf("%w: status 503", orderclient.ErrUnavailable)}
	h := NewNewOrderHandler(lookup, newInbox(t), &recordingBroadcaster{}, logger.Discard())

	err := h.Handle(context.Background(), createdMessage(t, "x", 1))
	require.Error(t, err)
	assert.False(t, errors.Is(err, broker.ErrDropped))
	assert.True(t, errors.Is(err, orderclient.ErrUnavailable))
}

func TestHandle_DecidedOrderIsSkipped(t *testing.T) {
	order := pendingOrder()
	order.Status = "CONFIRMED"
	inbox := newInbox(t)
	bc := &recordingBroadcaster{}
	h := NewNewOrderHandler(&flakyLookup{order: order}, inbox, bc, logger.Discard())

	require.NoError(t, h.Handle(context.Background(), createdMessage(t, order.ID, 1)))
	orders, err := inbox.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, bc.events)
}

func TestHandle_BroadcastFailureDoesNotFail(t *testing.T) {
	bc := &recordingBroadcaster{err: errors.New("redis down")}
	h := NewNewOrderHandler(&flakyLookup{order: pendingOrder()}, newInbox(t), bc, logger.Discard())
	assert.NoError(t, h.Handle(context.Background(), createdMessage(t, pendingOrder().ID, 1)))
}

// Redelivery of a Created event whose order was unknown the first time and
// known the second time yields exactly one inbox entry.
func TestConsumer_RedeliveryMaterializesOnce(t *testing.T) {
	inbox := newInbox(t)
	order := pendingOrder()
	lookup := &flakyLookup{order: order, misses: 1}
	hub := realtime.NewHub(logger.Discard())
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	h := NewNewOrderHandler(lookup, inbox, hub, logger.Discard())
	reader := &sliceReader{msgs: []kafka.Message{
		createdMessage(t, order.ID, 1),
		createdMessage(t, order.ID, 2),
		createdMessage(t, order.ID, 3),
	}}
	c := broker.NewConsumer(broker.ConsumerConfig{Queue: broker.QueueNewOrders, MaxAttempts: 1, Backoff: time.Millisecond},
		reader, h.Handle, nil, logger.Discard())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	orders, err := inbox.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	// second and third delivery both announce; duplicates are acceptable
	assert.Len(t, events, 2)
}

// ordersServer answers 503 for the first outage lookups, then the order.
// outage < 0 keeps it down for good.
func ordersServer(t *testing.T, order contracts.OrderView, outage int32) (*orderclient.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if outage < 0 || n <= outage {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(order)
	}))
	t.Cleanup(srv.Close)
	return orderclient.New(srv.URL, orderclient.Options{Timeout: time.Second, MaxFailures: 1000}), &calls
}

func TestConsumer_OutageDoesNotCommitUnappliedOrder(t *testing.T) {
	order := pendingOrder()
	client, calls := ordersServer(t, order, -1)
	inbox := newInbox(t)

	h := NewNewOrderHandler(client, inbox, &recordingBroadcaster{}, logger.Discard())
	reader := &sliceReader{msgs: []kafka.Message{createdMessage(t, order.ID, 42)}}
	c := broker.NewConsumer(broker.ConsumerConfig{Queue: broker.QueueNewOrders, MaxAttempts: 3, Backoff: time.Millisecond},
		reader, h.Handle, nil, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	assert.Empty(t, reader.committed)
	assert.Greater(t, calls.Load(), int32(3))
	orders, err := inbox.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestConsumer_OutageThenRecoveryMaterializes(t *testing.T) {
	order := pendingOrder()
	client, _ := ordersServer(t, order, 5)
	inbox := newInbox(t)

	h := NewNewOrderHandler(client, inbox, &recordingBroadcaster{}, logger.Discard())
	reader := &sliceReader{msgs: []kafka.Message{createdMessage(t, order.ID, 42)}}
	c := broker.NewConsumer(broker.ConsumerConfig{Queue: broker.QueueNewOrders, MaxAttempts: 3, Backoff: time.Millisecond},
		reader, h.Handle, nil, logger.Discard())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int64{42}, reader.committed)
	orders, err := inbox.List(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
}
