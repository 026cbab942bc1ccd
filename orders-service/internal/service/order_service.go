package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/publisher"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/repository"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/transaction"
	"github.com/google/uuid"
)

// OrderService is the only writer of order state. Every mutation runs in its
// own transaction and announces itself through the publisher, which holds
// the event back until that transaction commits.
type OrderService struct {
	repo         repository.OrderRepository
	scope        transaction.Scope
	publisher    publisher.Publisher
	logger       *slog.Logger
	now          func() time.Time
	strictCancel bool
}

type Option func(*OrderService)

// WithStrictCancelReason rejects cancellations whose reason is blank.
func WithStrictCancelReason(strict bool) Option {
	return func(s *OrderService) { s.strictCancel = strict }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func NewOrderService(repo repository.OrderRepository, scope transaction.Scope, pub publisher.Publisher, logger *slog.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		repo:      repo,
		scope:     scope,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) CreateOrder(ctx context.Context, details domain.CheckoutDetails, lines []domain.CartLine, totals domain.Totals, ownerID string) (*domain.Order, error) {
	order, err := domain.NewOrder(details, lines, totals, ownerID, s.now())
	if err != nil {
		return nil, err
	}

	err = s.scope.Execute(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		s.publisher.Publish(ctx, domain.OrderCreated{Order: order.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID.String()),
		slog.Int("lines", len(order.Items)),
		slog.String("total", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

// Confirm is idempotent in state; repeating it re-emits the event.
func (s *OrderService) Confirm(ctx context.Context, orderID uuid.UUID, comment string) (*domain.Order, error) {
	order, err := s.transition(ctx, orderID, func(o *domain.Order) domain.Event {
		o.Confirm(comment, s.now())
		return domain.OrderConfirmed{Order: o.Clone(), Comment: strings.TrimSpace(comment)}
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "order confirmed", slog.String("order_id", orderID.String()))
	return order, nil
}

func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*domain.Order, error) {
	if s.strictCancel && strings.TrimSpace(reason) == "" {
		return nil, &domain.ValidationError{Field: "reason", Reason: "must not be blank"}
	}

	order, err := s.transition(ctx, orderID, func(o *domain.Order) domain.Event {
		o.Cancel(reason, s.now())
		return domain.OrderCanceled{Order: o.Clone(), Reason: o.CancellationReason, LostAmount: o.TotalAmount}
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "order canceled",
		slog.String("order_id", orderID.String()),
		slog.String("reason", order.CancellationReason),
	)
	return order, nil
}

// transition locks the order row, applies mutate and publishes the event
// it returns. Crossing transitions are not guarded: the last writer wins.
func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, mutate func(o *domain.Order) domain.Event) (*domain.Order, error) {
	return transaction.ExecuteWithResult(ctx, s.scope, func(ctx context.Context) (*domain.Order, error) {
		order, err := s.repo.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return nil, err
		}
		event := mutate(order)
		if err := s.repo.UpdateOrderState(ctx, order); err != nil {
			return nil, fmt.Errorf("update order %s: %w", orderID, err)
		}
		s.publisher.Publish(ctx, event)
		return order, nil
	})
}

func (s *OrderService) GetByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

func (s *OrderService) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	return s.repo.ListOrdersByStatus(ctx, status)
}

// ListByOwner returns nothing for guests.
func (s *OrderService) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return []*domain.Order{}, nil
	}
	return s.repo.ListOrdersByUserID(ctx, ownerID)
}
