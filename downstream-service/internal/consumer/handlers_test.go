package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/elizov/khpi-corporate-systems/downstream-service/internal/sink"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/logger"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockLookup struct {
	orders map[string]contracts.OrderView
	err    error
}

func (m *mockLookup) GetOrder(_ context.Context, orderID string) (*contracts.OrderView, error) {
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orderclient.ErrNotFound, orderID)
	}
	return &o, nil
}

// memoryStore mirrors MongoStore's first-write-wins behavior.
type memoryStore struct {
	procurement map[string]sink.ProcurementRequest
	quality     map[string]sink.QualityReport
	err         error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		procurement: map[string]sink.ProcurementRequest{},
		quality:     map[string]sink.QualityReport{},
	}
}

func (m *memoryStore) RecordProcurement(_ context.Context, req sink.ProcurementRequest) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.procurement[req.OrderID]; ok {
		return false, nil
	}
	m.procurement[req.OrderID] = req
	return true, nil
}

func (m *memoryStore) RecordQualityReport(_ context.Context, r sink.QualityReport) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.quality[r.OrderID]; ok {
		return false, nil
	}
	m.quality[r.OrderID] = r
	return true, nil
}

// --- helpers ---

func message(t *testing.T, v any, eventID string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{
		Value:   payload,
		Headers: []kafka.Header{{Key: broker.HeaderEventID, Value: []byte(eventID)}},
	}
}

func newHandlers(lookup OrderLookup, store sink.Store) *Handlers {
	h := NewHandlers(lookup, store, logger.Discard())
	h.now = func() time.Time { return time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC) }
	return h
}

// --- tests ---

func TestProcurement_RecordsOncePerOrder(t *testing.T) {
	store := newMemoryStore()
	h := newHandlers(&mockLookup{orders: map[string]contracts.OrderView{"o1": {ID: "o1", Status: "CONFIRMED"}}}, store)

	msg := message(t, broker.OrderConfirmedMessage{
		OrderID: "o1",
		Comment: "ship asap",
		Items:   []broker.OrderLine{{ProductID: 1, ProductName: "Keyboard", Quantity: 2}},
	}, "e1")

	require.NoError(t, h.Procurement(context.Background(), msg))
	require.NoError(t, h.Procurement(context.Background(), msg))

	require.Len(t, store.procurement, 1)
	got := store.procurement["o1"]
	assert.Equal(t, "e1", got.EventID)
	assert.Equal(t, "ship asap", got.Comment)
	assert.Equal(t, []sink.ProcurementLine{{ProductID: 1, ProductName: "Keyboard", Quantity: 2}}, got.Items)
}

func TestProcurement_DropsOnlyUnknownOrders(t *testing.T) {
	store := newMemoryStore()
	h := newHandlers(&mockLookup{orders: map[string]contracts.OrderView{"o2": {ID: "o2", Status: "CANCELED"}}}, store)

	err := h.Procurement(context.Background(), message(t, broker.OrderConfirmedMessage{OrderID: "missing"}, "e1"))
	assert.True(t, errors.Is(err, broker.ErrDropped))
	assert.Empty(t, store.procurement)

	// confirmed, then canceled before the event arrived
	require.NoError(t, h.Procurement(context.Background(), message(t, broker.OrderConfirmedMessage{OrderID: "o2"}, "e2")))
	assert.Contains(t, store.procurement, "o2")
}

func TestQuality_AppliesAfterReconfirm(t *testing.T) {
	store := newMemoryStore()
	h := newHandlers(&mockLookup{orders: map[string]contracts.OrderView{"o4": {ID: "o4", Status: "CONFIRMED"}}}, store)

	msg := message(t, broker.OrderCanceledMessage{OrderID: "o4", Reason: "damaged", LostAmount: decimal.RequireFromString("25.5")}, "e4")
	require.NoError(t, h.Quality(context.Background(), msg))
	require.NoError(t, h.Quality(context.Background(), msg))

	require.Len(t, store.quality, 1)
	assert.Equal(t, "25.50", store.quality["o4"].LostAmount)
}

func TestQuality_RecordsLostAmount(t *testing.T) {
	store := newMemoryStore()
	h := newHandlers(&mockLookup{orders: map[string]contracts.OrderView{"o3": {ID: "o3", Status: "CANCELED", CustomerName: "Ann Smith"}}}, store)

	msg := message(t, broker.OrderCanceledMessage{OrderID: "o3", Reason: "out of stock", LostAmount: decimal.RequireFromString("25.5")}, "e3")
	require.NoError(t, h.Quality(context.Background(), msg))

	got := store.quality["o3"]
	assert.Equal(t, "25.50", got.LostAmount)
	assert.Equal(t, "out of stock", got.Reason)
	assert.Equal(t, "Ann Smith", got.CustomerName)
	assert.Equal(t, time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC), got.ReceivedAt)
}

func TestHandlers_DecodeAndTransientErrors(t *testing.T) {
	h := newHandlers(&mockLookup{}, newMemoryStore())
	err := h.Quality(context.Background(), kafka.Message{Value: []byte("[")})
	assert.True(t, errors.Is(err, broker.ErrDecode))

	unavailable := newHandlers(&mockLookup{err: orderclient.ErrUnavailable}, newMemoryStore())
	err = unavailable.Quality(context.Background(), message(t, broker.OrderCanceledMessage{OrderID: "o"}, "e"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, broker.ErrDropped))

	store := newMemoryStore()
	store.err = errors.New("mongo down")
	failing := newHandlers(&mockLookup{orders: map[string]contracts.OrderView{"o": {ID: "o", Status: "CONFIRMED"}}}, store)
	err = failing.Procurement(context.Background(), message(t, broker.OrderConfirmedMessage{OrderID: "o"}, "e"))
	assert.EqualError(t, err, "mongo down")
}
