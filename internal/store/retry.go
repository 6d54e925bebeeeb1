package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/graph"
)

// isTransient reports whether err looks like a transient store failure:
// lock contention, busy handles, dropped connections. These are retried;
// everything else surfaces immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, graph.ErrStoreUnavailable) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"SQLITE_BUSY",
		"connection reset",
		"i/o timeout",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify maps raw driver errors onto the typed taxonomy. Errors that
// already carry a taxonomy sentinel pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, graph.ErrNotFound) ||
		errors.Is(err, graph.ErrConflict) ||
		errors.Is(err, graph.ErrTimeout) ||
		errors.Is(err, graph.ErrStoreUnavailable) ||
		graph.IsValidation(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, graph.ErrTimeout)
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w", op, graph.ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// run executes fn under the full adapter policy: bounded pool slot,
// circuit breaker, per-query timeout, and capped exponential backoff with
// jitter for transient failures. A query that exceeds its deadline yields
// Timeout and is not retried; the result is never partial.
func (db *DB) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	release, err := db.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = db.breaker.Execute(func() (any, error) {
		delay := db.opts.RetryBase
		var last error
		for attempt := 1; attempt <= db.opts.MaxRetries; attempt++ {
			qctx, cancel := context.WithTimeout(ctx, db.opts.QueryTimeout)
			err := fn(qctx)
			cancel()
			if err == nil {
				return nil, nil
			}
			last = err
			if errors.Is(err, context.DeadlineExceeded) || !isTransient(err) {
				return nil, err
			}
			if attempt == db.opts.MaxRetries {
				break
			}
			db.log.Debug("retrying store operation",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
			jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
		return nil, last
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: circuit open: %w", op, graph.ErrStoreUnavailable)
	}
	return classify(op, err)
}
