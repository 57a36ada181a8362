package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Beginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Timeouts bound how long a single write transaction may wait on row locks
// and how long any statement inside it may run. Zero disables the limit.
type Timeouts struct {
	Lock      time.Duration
	Statement time.Duration
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise. Timeouts are applied with SET LOCAL
// so they never leak onto the pooled connection.
func InTx(ctx context.Context, db Beginner, t Timeouts, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if t.Lock > 0 {
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.Lock.Milliseconds())); err != nil {
				return fmt.Errorf("set lock_timeout: %w", err)
			}
		}
		if t.Statement > 0 {
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", t.Statement.Milliseconds())); err != nil {
				return fmt.Errorf("set statement_timeout: %w", err)
			}
		}
		return fn(tx)
	})
}
