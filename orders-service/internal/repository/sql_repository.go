package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/elizov/khpi-corporate-systems/orders-service/internal/domain"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/transaction"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db     *sql.DB
	driver string
}

func NewRepository(cred *Credentials) (*Repository, error) {
	driver := cred.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	var db *sql.DB
	var err error
	switch driver {
	case DriverPostgres:
		psqlconn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cred.Host,
			cred.Port,
			cred.User,
			cred.Password,
			cred.DBName)
		db, err = sql.Open("postgres", psqlconn)
		if err == nil {
			db.SetMaxOpenConns(100)
			db.SetMaxIdleConns(10)
		}
	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cred.Path)
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// one writer at a time; transactions carry their own connection
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	return &Repository{db: db, driver: driver}, nil
}

// DB exposes the pool for transaction scopes.
func (r *Repository) DB() *sql.DB {
	return r.db
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	var driver database.Driver
	var err error
	switch r.driver {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(r.db, &migratesqlite.Config{
			MigrationsTable: "orders_schema_migrations",
		})
	default:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "orders_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", filepath.Join(cred.MigrationsDirPath, r.driver)),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) conn(ctx context.Context) querier {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// CreateOrder inserts the order and its lines. Outside a transaction it
// opens one of its own so the order never exists without its lines.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	if _, ok := transaction.TxFromContext(ctx); !ok {
		return transaction.NewSQLScope(r.db).Execute(ctx, func(ctx context.Context) error {
			return r.CreateOrder(ctx, order)
		})
	}
	q := r.conn(ctx)

	// keep the in-memory order equal to what the database can hold
	order.CreatedAt = order.CreatedAt.UTC().Truncate(time.Microsecond)
	order.UpdatedAt = order.UpdatedAt.UTC().Truncate(time.Microsecond)

	query := `INSERT INTO orders (id, user_id, full_name, email, phone, address, city, postal_code,
	          delivery_method, payment_method, card_last_four, notes, cancellation_reason, status,
	          total_quantity, total_amount, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, insertErr := q.ExecContext(ctx, query,
		order.ID,
		nullable(order.UserID),
		order.FullName,
		order.Email,
		order.Phone,
		order.Address,
		order.City,
		order.PostalCode,
		order.DeliveryMethod,
		order.PaymentMethod,
		nullable(order.CardLastFour),
		nullable(order.Notes),
		nullable(order.CancellationReason),
		string(order.Status),
		order.TotalQuantity,
		order.TotalAmount,
		order.CreatedAt,
		order.UpdatedAt)
	if insertErr != nil {
		if isUniqueViolation(insertErr) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}

	itemQuery := `INSERT INTO order_items (order_id, line_no, product_id, product_name, quantity, unit_price, subtotal)
	              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, item := range order.Items {
		if _, err := q.ExecContext(ctx, itemQuery,
			order.ID,
			i,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal,
		); err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	return nil
}

const orderColumns = `id, user_id, full_name, email, phone, address, city, postal_code,
	delivery_method, payment_method, card_last_four, notes, cancellation_reason, status,
	total_quantity, total_amount, created_at, updated_at`

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOrder(ctx, id, "")
}

func (r *Repository) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	lock := ""
	if r.driver == DriverPostgres {
		lock = " FOR UPDATE"
	}
	return r.getOrder(ctx, id, lock)
}

func (r *Repository) getOrder(ctx context.Context, id uuid.UUID, lock string) (*domain.Order, error) {
	q := r.conn(ctx)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + lock

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	items, err := r.loadItems(ctx, q, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *Repository) UpdateOrderState(ctx context.Context, order *domain.Order) error {
	order.UpdatedAt = order.UpdatedAt.UTC().Truncate(time.Microsecond)

	query := `UPDATE orders SET status = $1, notes = $2, cancellation_reason = $3, updated_at = $4 WHERE id = $5`
	res, err := r.conn(ctx).ExecContext(ctx, query,
		string(order.Status),
		nullable(order.Notes),
		nullable(order.CancellationReason),
		order.UpdatedAt,
		order.ID)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *Repository) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at ASC, id ASC`
	return r.listOrders(ctx, query, string(status))
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return []*domain.Order{}, nil
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	return r.listOrders(ctx, query, userID)
}

func (r *Repository) listOrders(ctx context.Context, query string, arg any) ([]*domain.Order, error) {
	q := r.conn(ctx)
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	// release the connection before the item query; sqlite runs with one
	rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.loadItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

func (r *Repository) loadItems(ctx context.Context, q querier, ids []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error) {
	query := `SELECT order_id, product_id, product_name, quantity, unit_price, subtotal
	          FROM order_items WHERE order_id IN (` + placeholders(len(ids)) + `) ORDER BY order_id, line_no`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]domain.OrderItem, len(ids))
	for rows.Next() {
		var orderID uuid.UUID
		var item domain.OrderItem
		if err := rows.Scan(
			&orderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var order domain.Order
	var userID, cardLastFour, notes, reason sql.NullString
	var status string
	if err := s.Scan(
		&order.ID,
		&userID,
		&order.FullName,
		&order.Email,
		&order.Phone,
		&order.Address,
		&order.City,
		&order.PostalCode,
		&order.DeliveryMethod,
		&order.PaymentMethod,
		&cardLastFour,
		&notes,
		&reason,
		&status,
		&order.TotalQuantity,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	order.UserID = userID.String
	order.CardLastFour = cardLastFour.String
	order.Notes = notes.String
	order.CancellationReason = reason.String
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	b := make([]byte, 0, n*4)
	for i := 1; i <= n; i++ {
		if i > 1 {
			b = append(b, ", "...)
		}
		b = append(b, fmt.Sprintf("$%d", i)...)
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

var _ OrderRepository = (*Repository)(nil)
