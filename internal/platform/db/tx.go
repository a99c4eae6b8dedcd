package db

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey carries the active transaction through a request context so that
// repositories called inside WithTx share the same transaction.
const DBTxKey contextKey = "db_tx"

// ErrContention is returned when a transaction keeps losing lock/version
// conflicts after the bounded retry policy is exhausted. It is the only
// error in the system that callers may safely retry.
var ErrContention = errors.New("transient conflict, retry the operation")

// ErrVersionConflict signals an optimistic-concurrency check failure: the
// row's version_id no longer matches the one the caller read.
var ErrVersionConflict = errors.New("row version conflict")

// TxFromContext returns the transaction stored in ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx runs fn inside a single database transaction. The transaction is
// injected into the context so every repository method invoked from fn
// joins it. Nested calls reuse the surrounding transaction rather than
// opening a second one.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RetryPolicy bounds how often a conflicting transaction is retried before
// the operation fails with ErrContention.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries up to 5 times with jittered exponential
// backoff starting at 10ms, capped at 250ms per wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
}

// WithRetry runs fn, retrying it under the policy whenever it fails with a
// retryable conflict (serialization failure, deadlock, or an optimistic
// version check). Any other error is returned as-is. When attempts are
// exhausted the operation fails with ErrContention instead of blocking.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	delay := policy.BaseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return ErrContention
		}

		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}

// Postgres error codes that indicate a transient conflict.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsRetryable reports whether err is a transient conflict worth retrying.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}
