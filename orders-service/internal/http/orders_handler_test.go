package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/logger"
	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock ---

type mockService struct {
	order  *domain.Order
	orders []*domain.Order
	err    error

	gotOwner   string
	gotLines   []domain.CartLine
	gotTotals  domain.Totals
	gotReason  string
	gotComment string
	gotStatus  domain.OrderStatus
}

func (m *mockService) CreateOrder(_ context.Context, _ domain.CheckoutDetails, lines []domain.CartLine, totals domain.Totals, ownerID string) (*domain.Order, error) {
	m.gotOwner, m.gotLines, m.gotTotals = ownerID, lines, totals
	return m.order, m.err
}

func (m *mockService) Confirm(_ context.Context, _ uuid.UUID, comment string) (*domain.Order, error) {
	m.gotComment = comment
	return m.order, m.err
}

func (m *mockService) Cancel(_ context.Context, _ uuid.UUID, reason string) (*domain.Order, error) {
	m.gotReason = reason
	return m.order, m.err
}

func (m *mockService) GetByID(context.Context, uuid.UUID) (*domain.Order, error) {
	return m.order, m.err
}

func (m *mockService) ListByStatus(_ context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	m.gotStatus = status
	return m.orders, m.err
}

func (m *mockService) ListByOwner(_ context.Context, ownerID string) ([]*domain.Order, error) {
	m.gotOwner = ownerID
	return m.orders, m.err
}

// --- helper ---

func sampleOrder(status domain.OrderStatus, userID string) *domain.Order {
	return &domain.Order{
		ID:            uuid.New(),
		CreatedAt:     time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
		FullName:      "Ann Smith",
		Status:        status,
		UserID:        userID,
		TotalQuantity: 3,
		TotalAmount:   decimal.RequireFromString("25.5"),
		Items: []domain.OrderItem{
			{ProductID: 1, ProductName: "Keyboard", Quantity: 2, UnitPrice: decimal.RequireFromString("10"), Subtotal: decimal.RequireFromString("20")},
			{ProductID: 2, ProductName: "Cable", Quantity: 1, UnitPrice: decimal.RequireFromString("5.5"), Subtotal: decimal.RequireFromString("5.5")},
		},
	}
}

func newTestRouter(svc OrderService) http.Handler {
	h := NewOrdersHandler(svc, 5*time.Second, logger.Discard())
	reg := prometheus.NewRegistry()
	return NewRouter(h, metrics.NewServerMetrics(reg, "test"), reg, 10*time.Second)
}

func do(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var admin = map[string]string{"X-User-Roles": "ADMIN"}

const checkoutBody = `{
	"customer": {"full_name": "Ann Smith", "email": "ann@example.com", "phone": "+380501112233",
	             "address": "1 Main St", "city": "Kharkiv", "postal_code": "61000"},
	"delivery_method": "courier",
	"payment_method": "card",
	"card_number": "4111 1111 1111 1234",
	"items": [
		{"product_id": 1, "product_name": "Keyboard", "quantity": 2, "unit_price": "10.00"},
		{"product_id": 2, "product_name": "Cable", "quantity": 1, "unit_price": 5.5}
	],
	"total_price": "25.50"
}`

// --- tests ---

func TestCreateOrder_Success(t *testing.T) {
	svc := &mockService{order: sampleOrder(domain.OrderStatusNew, "7")}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/orders", checkoutBody, map[string]string{"X-User-Id": "7"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "7", svc.gotOwner)
	require.Len(t, svc.gotLines, 2)
	assert.True(t, svc.gotLines[1].UnitPrice.Equal(decimal.RequireFromString("5.5")))
	assert.True(t, svc.gotTotals.Amount.Equal(decimal.RequireFromString("25.5")))

	var view contracts.OrderView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "NEW", view.Status)
	assert.Equal(t, "25.50", view.TotalPrice)
	assert.Equal(t, "20.00", view.Items[0].Subtotal)
	assert.Equal(t, "2026-02-12T10:00:00Z", view.CreatedAt)
}

func TestCreateOrder_RejectsInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"no items", `{"customer": {"full_name": "A", "email": "a@b.c", "phone": "1", "address": "x", "city": "y", "postal_code": "1"}, "delivery_method": "courier", "payment_method": "cash", "items": []}`},
		{"bad email", strings.Replace(checkoutBody, "ann@example.com", "not-an-email", 1)},
		{"blank name", strings.Replace(checkoutBody, `"Ann Smith"`, `"   "`, 1)},
		{"quantity beyond int32", strings.Replace(checkoutBody, `"quantity": 2`, `"quantity": 2147483648`, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/orders", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, svc.gotLines, "service must not be called")
		})
	}
}

func TestCreateOrder_DomainValidationIs400(t *testing.T) {
	svc := &mockService{err: &domain.ValidationError{Field: "total_price", Reason: "mismatch"}}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/orders", checkoutBody, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp contracts.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "invalid_argument", resp.Code)
}

func TestListOrders_UsesOwnerHint(t *testing.T) {
	svc := &mockService{orders: []*domain.Order{sampleOrder(domain.OrderStatusNew, "9")}}
	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/v1/orders", "", map[string]string{"X-User-Id": "9"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9", svc.gotOwner)
	var views []contracts.OrderView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	assert.Len(t, views, 1)
}

func TestGetOrder(t *testing.T) {
	owned := sampleOrder(domain.OrderStatusNew, "9")

	t.Run("owner sees order", func(t *testing.T) {
		rec := do(t, newTestRouter(&mockService{order: owned}), http.MethodGet, "/api/v1/orders/"+owned.ID.String(), "", map[string]string{"X-User-Id": "9"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("other user gets 404", func(t *testing.T) {
		rec := do(t, newTestRouter(&mockService{order: owned}), http.MethodGet, "/api/v1/orders/"+owned.ID.String(), "", map[string]string{"X-User-Id": "10"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("missing order", func(t *testing.T) {
		rec := do(t, newTestRouter(&mockService{err: domain.ErrOrderNotFound}), http.MethodGet, "/api/v1/orders/"+uuid.NewString(), "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("malformed id", func(t *testing.T) {
		rec := do(t, newTestRouter(&mockService{}), http.MethodGet, "/api/v1/orders/not-a-uuid", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("internal error", func(t *testing.T) {
		rec := do(t, newTestRouter(&mockService{err: errors.New("db down")}), http.MethodGet, "/api/v1/orders/"+uuid.NewString(), "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestAdminRoutes_RequireRole(t *testing.T) {
	svc := &mockService{}
	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/admin/orders?status=NEW", "", map[string]string{"X-User-Roles": "USER"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListByStatus(t *testing.T) {
	svc := &mockService{orders: []*domain.Order{}}
	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/admin/orders?status=confirmed", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusConfirmed, svc.gotStatus)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, newTestRouter(svc), http.MethodGet, "/api/admin/orders?status=SHIPPED", "", admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirm_ReturnsEnvelope(t *testing.T) {
	svc := &mockService{order: sampleOrder(domain.OrderStatusConfirmed, "")}
	path := "/api/admin/orders/" + svc.order.ID.String() + "/confirm"

	rec := do(t, newTestRouter(svc), http.MethodPost, path, `{"comment": "packed"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "packed", svc.gotComment)

	var event contracts.OrderEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&event))
	assert.Equal(t, contracts.EventConfirmed, event.Type)
	assert.Equal(t, svc.order.ID.String(), event.Order.ID)

	rec = do(t, newTestRouter(svc), http.MethodPost, path, "", admin)
	assert.Equal(t, http.StatusOK, rec.Code, "comment is optional")
}

func TestCancel_RequiresReason(t *testing.T) {
	svc := &mockService{order: sampleOrder(domain.OrderStatusCanceled, "")}
	path := "/api/admin/orders/" + svc.order.ID.String() + "/cancel"

	rec := do(t, newTestRouter(svc), http.MethodPost, path, `{"reason": "   "}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.gotReason)

	rec = do(t, newTestRouter(svc), http.MethodPost, path, `{"reason": "out of stock"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "out of stock", svc.gotReason)

	var event contracts.OrderEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&event))
	assert.Equal(t, contracts.EventCanceled, event.Type)
}

func TestCancel_NotFound(t *testing.T) {
	svc := &mockService{err: domain.ErrOrderNotFound}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/admin/orders/"+uuid.NewString()+"/cancel", `{"reason": "x"}`, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
