package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxAttempts = 3
	baseBackoff = 50 * time.Millisecond
)

// IsTransient reports whether err is a retryable store failure: a broken or
// refused connection, a serialization failure, or a deadlock. Constraint
// violations and business errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// serialization_failure, deadlock_detected, connection exceptions
		case "40001", "40P01", "08000", "08003", "08006":
			return true
		}
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// WithRetry runs fn, retrying transient failures with bounded exponential
// backoff. Non-transient errors and context cancellation stop immediately.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
