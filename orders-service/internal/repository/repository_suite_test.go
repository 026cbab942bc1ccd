package repository

import (
	"context"
	"testing"
	"time"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T, userID string, createdAt time.Time) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(domain.CheckoutDetails{
		FullName:       "Ann Smith",
		Email:          "ann@example.com",
		Phone:          "+380501112233",
		Address:        "1 Main St",
		City:           "Kharkiv",
		PostalCode:     "61000",
		DeliveryMethod: "courier",
		PaymentMethod:  "card",
		CardNumber:     "4111111111111234",
	}, []domain.CartLine{
		{ProductID: 10, ProductName: "Mouse", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		{ProductID: 3, ProductName: "Pad", Quantity: 1, UnitPrice: decimal.RequireFromString("5.50")},
	}, domain.Totals{}, userID, createdAt)
	require.NoError(t, err)
	return order
}

// runRepositorySuite exercises behaviour every dialect must share.
func runRepositorySuite(t *testing.T, repo *Repository) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get keeps lines in submitted order", func(t *testing.T) {
		order := newTestOrder(t, "user-1", base)
		require.NoError(t, repo.CreateOrder(ctx, order))

		fetched, err := repo.GetOrderByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, fetched.ID)
		assert.Equal(t, domain.OrderStatusNew, fetched.Status)
		assert.Equal(t, "1234", fetched.CardLastFour)
		assert.Equal(t, 3, fetched.TotalQuantity)
		assert.True(t, fetched.TotalAmount.Equal(decimal.RequireFromString("25.50")), "got %s", fetched.TotalAmount)
		assert.True(t, order.CreatedAt.Equal(fetched.CreatedAt))
		assert.Empty(t, fetched.CancellationReason)
		require.Len(t, fetched.Items, 2)
		assert.Equal(t, int64(10), fetched.Items[0].ProductID)
		assert.Equal(t, int64(3), fetched.Items[1].ProductID)
		assert.True(t, fetched.Items[0].Subtotal.Equal(decimal.RequireFromString("20")))
	})

	t.Run("duplicate id", func(t *testing.T) {
		order := newTestOrder(t, "", base)
		require.NoError(t, repo.CreateOrder(ctx, order))
		assert.ErrorIs(t, repo.CreateOrder(ctx, order), ErrDuplicateOrder)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetOrderByID(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)

		missing := newTestOrder(t, "", base)
		assert.ErrorIs(t, repo.UpdateOrderState(ctx, missing), domain.ErrOrderNotFound)
	})

	t.Run("update state inside transaction", func(t *testing.T) {
		order := newTestOrder(t, "", base)
		require.NoError(t, repo.CreateOrder(ctx, order))

		err := transaction.NewSQLScope(repo.DB()).Execute(ctx, func(ctx context.Context) error {
			locked, err := repo.GetOrderForUpdate(ctx, order.ID)
			if err != nil {
				return err
			}
			locked.Cancel(" damaged ", base.Add(time.Minute))
			return repo.UpdateOrderState(ctx, locked)
		})
		require.NoError(t, err)

		fetched, err := repo.GetOrderByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCanceled, fetched.Status)
		assert.Equal(t, "damaged", fetched.CancellationReason)
		assert.Len(t, fetched.Items, 2, "lines never change")
	})

	t.Run("rolled back create leaves nothing behind", func(t *testing.T) {
		order := newTestOrder(t, "", base)
		err := transaction.NewSQLScope(repo.DB()).Execute(ctx, func(ctx context.Context) error {
			if err := repo.CreateOrder(ctx, order); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		_, err = repo.GetOrderByID(ctx, order.ID)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("list by status oldest first", func(t *testing.T) {
		later := newTestOrder(t, "", base.Add(2*time.Hour))
		earlier := newTestOrder(t, "", base.Add(-2*time.Hour))
		require.NoError(t, repo.CreateOrder(ctx, later))
		require.NoError(t, repo.CreateOrder(ctx, earlier))
		for _, o := range []*domain.Order{later, earlier} {
			o.Confirm("", base)
			require.NoError(t, repo.UpdateOrderState(ctx, o))
		}

		orders, err := repo.ListOrdersByStatus(ctx, domain.OrderStatusConfirmed)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, earlier.ID, orders[0].ID)
		assert.Equal(t, later.ID, orders[1].ID)
		assert.Len(t, orders[0].Items, 2)
	})

	t.Run("list by owner newest first", func(t *testing.T) {
		first := newTestOrder(t, "owner-9", base)
		second := newTestOrder(t, "owner-9", base.Add(time.Minute))
		other := newTestOrder(t, "owner-10", base)
		for _, o := range []*domain.Order{first, second, other} {
			require.NoError(t, repo.CreateOrder(ctx, o))
		}

		orders, err := repo.ListOrdersByUserID(ctx, "owner-9")
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, second.ID, orders[0].ID)
		assert.Equal(t, first.ID, orders[1].ID)

		guest, err := repo.ListOrdersByUserID(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, guest)
	})
}
