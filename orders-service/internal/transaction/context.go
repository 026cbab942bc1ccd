package transaction

import (
	"context"
	"database/sql"
	"sync"
)

type txKey struct{}

type syncKey struct{}

func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns (nil, false) when ctx carries no transaction.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// synchronization collects hooks for one transaction. Hooks are dropped
// with it on rollback.
type synchronization struct {
	mu    sync.Mutex
	hooks []func()
}

func withSynchronization(ctx context.Context, s *synchronization) context.Context {
	return context.WithValue(ctx, syncKey{}, s)
}

// Active reports whether ctx belongs to a transaction that accepts hooks.
func Active(ctx context.Context) bool {
	_, ok := ctx.Value(syncKey{}).(*synchronization)
	return ok
}

// RegisterAfterCommit defers fn until the transaction in ctx commits. It
// returns false, and does nothing, when ctx has no active transaction.
func RegisterAfterCommit(ctx context.Context, fn func()) bool {
	s, ok := ctx.Value(syncKey{}).(*synchronization)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
	return true
}

// afterCommit runs hooks in registration order.
func (s *synchronization) afterCommit() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
