// Package transaction runs work inside a database transaction carried in the
// context, and lets callers defer side effects until that transaction commits.
package transaction

import (
	"context"
	"database/sql"
	"fmt"
)

// Scope manages the lifecycle of a transaction.
type Scope interface {
	// Execute runs fn within a transaction. The transaction is committed if
	// fn returns nil and rolled back otherwise. After-commit hooks registered
	// through the ctx passed to fn run only after a successful commit.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// ExecuteWithResult runs fn within a transaction and returns its result.
func ExecuteWithResult[T any](ctx context.Context, scope Scope, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := scope.Execute(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// SQLScope implements Scope on database/sql.
type SQLScope struct {
	db   *sql.DB
	opts *sql.TxOptions
}

func NewSQLScope(db *sql.DB) *SQLScope {
	return &SQLScope{db: db}
}

// Execute joins the transaction already present in ctx, if any. Only the
// outermost call commits and fires hooks.
func (s *SQLScope) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, s.opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	sync := &synchronization{}
	txCtx := withSynchronization(WithTx(ctx, tx), sync)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	sync.afterCommit()
	return nil
}

var _ Scope = (*SQLScope)(nil)
