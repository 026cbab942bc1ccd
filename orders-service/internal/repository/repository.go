package repository

import (
	"context"
	"errors"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/google/uuid"
)

var ErrDuplicateOrder = errors.New("order with this id already exists")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Credentials struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// Path is the database file for the sqlite driver.
	Path string
	// MigrationsDirPath holds one sub-directory per driver.
	MigrationsDirPath string
}

// OrderRepository persists orders and their line items. Every method runs
// inside the transaction carried by ctx when there is one.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// GetOrderForUpdate reads the order and, where the dialect supports it,
	// locks its row until the surrounding transaction ends.
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// UpdateOrderState writes the mutable fields: status, notes and
	// cancellation reason.
	UpdateOrderState(ctx context.Context, order *domain.Order) error
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	RunMigrations(*Credentials) error
	Close() error
}
