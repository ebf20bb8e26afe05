package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	defaultTxTimeout = 5 * time.Second
	retryBaseDelay   = 10 * time.Millisecond
	retryMaxDelay    = 200 * time.Millisecond
)

// RunInTx executes fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Serialization conflicts and busy
// errors re-run fn from scratch up to the configured retry limit, so fn must
// not keep state across calls.
func (db *DB) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	timeout := db.txTimeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		err := db.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) || attempt >= db.maxRetries {
			return err
		}

		db.logger.WarnContext(ctx, "retrying contact transaction",
			"attempt", attempt+1,
			"error", err.Error(),
		)
		if db.onRetry != nil {
			db.onRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction aborted after conflict: %w", errors.Join(ctx.Err(), err))
		case <-time.After(retryDelay(attempt)):
		}
	}
}

func (db *DB) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.Conn.BeginTx(ctx, db.Dialect.txOptions())
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient conflict that a fresh
// transaction may not hit again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func retryDelay(attempt int) time.Duration {
	d := retryBaseDelay << attempt
	if d > retryMaxDelay || d <= 0 {
		d = retryMaxDelay
	}
	return d/2 + rand.N(d/2+1)
}
