package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderService is the slice of the lifecycle service the REST layer uses.
type OrderService interface {
	CreateOrder(ctx context.Context, details domain.CheckoutDetails, lines []domain.CartLine, totals domain.Totals, ownerID string) (*domain.Order, error)
	Confirm(ctx context.Context, orderID uuid.UUID, comment string) (*domain.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*domain.Order, error)
	GetByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error)
}

type OrdersHandler struct {
	service  OrderService
	validate *validator.Validate
	timeout  time.Duration
	logger   *slog.Logger
}

func NewOrdersHandler(service OrderService, timeout time.Duration, logger *slog.Logger) *OrdersHandler {
	return &OrdersHandler{
		service:  service,
		validate: NewValidator(),
		timeout:  timeout,
		logger:   logger,
	}
}

type CustomerDTO struct {
	FullName   string `json:"full_name" validate:"required,notblank,max=255"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required,notblank,max=50"`
	Address    string `json:"address" validate:"required,notblank"`
	City       string `json:"city" validate:"required,notblank,max=100"`
	PostalCode string `json:"postal_code" validate:"required,notblank,max=20"`
}

type CheckoutItemDTO struct {
	ProductID   int64           `json:"product_id" validate:"gt=0"`
	ProductName string          `json:"product_name" validate:"required,notblank"`
	Quantity    int             `json:"quantity" validate:"gt=0,lte=2147483647"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type CheckoutRequest struct {
	Customer       CustomerDTO       `json:"customer" validate:"required"`
	DeliveryMethod string            `json:"delivery_method" validate:"required,notblank"`
	PaymentMethod  string            `json:"payment_method" validate:"required,notblank"`
	CardNumber     string            `json:"card_number,omitempty"`
	Notes          string            `json:"notes,omitempty" validate:"max=2000"`
	Items          []CheckoutItemDTO `json:"items" validate:"required,min=1,dive"`
	TotalQuantity  int               `json:"total_quantity,omitempty" validate:"gte=0"`
	TotalPrice     decimal.Decimal   `json:"total_price,omitempty"`
}

// POST /api/v1/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, domain.CartLine{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	details := domain.CheckoutDetails{
		FullName:       req.Customer.FullName,
		Email:          req.Customer.Email,
		Phone:          req.Customer.Phone,
		Address:        req.Customer.Address,
		City:           req.Customer.City,
		PostalCode:     req.Customer.PostalCode,
		DeliveryMethod: req.DeliveryMethod,
		PaymentMethod:  req.PaymentMethod,
		CardNumber:     req.CardNumber,
		Notes:          req.Notes,
	}
	totals := domain.Totals{Quantity: req.TotalQuantity, Amount: req.TotalPrice}

	order, err := h.service.CreateOrder(ctx, details, lines, totals, IdentityFromContext(r.Context()).UserID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, order.View())
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.service.ListByOwner(ctx, IdentityFromContext(r.Context()).UserID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, views(orders))
}

// GET /api/v1/orders/{order_id}
//
// An order placed by a signed-in user is only shown to that user or to
// staff. Guest orders are reachable by id alone.
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetByID(ctx, orderID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	caller := IdentityFromContext(r.Context())
	if order.UserID != "" && order.UserID != caller.UserID && !caller.HasRole(RoleAdmin) {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	respondJSON(w, http.StatusOK, order.View())
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "order_id")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "order_id is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		// an id that cannot exist is reported like any unknown id
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return uuid.Nil, false
	}
	return id, true
}

func views(orders []*domain.Order) []contracts.OrderView {
	out := make([]contracts.OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.View())
	}
	return out
}
