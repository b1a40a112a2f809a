package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/observability"
)

type contextKey string

const txKey contextKey = "tx"

const (
	// DefaultBusyRetries is how often a transaction is retried when the
	// database file is locked by another writer
	DefaultBusyRetries = 3
	defaultBusyBackoff = 50 * time.Millisecond
)

// DB wraps sql.DB and implements port.TransactionManager. Repositories
// pick up the transaction from the context they are called with.
type DB struct {
	*sql.DB
	logger      *zap.Logger
	busyRetries int
	busyBackoff time.Duration
}

// NewDB creates a new database wrapper
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:          sqlDB,
		logger:      logger,
		busyRetries: DefaultBusyRetries,
		busyBackoff: defaultBusyBackoff,
	}
}

// WithTransaction runs fn in a transaction, joining one already carried by
// ctx. A transaction that fails with SQLITE_BUSY or SQLITE_LOCKED is rolled
// back and run again, so fn must only have effects through the transaction
// or assignments it repeats.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	ctx, span := observability.StartSpan(ctx, "store.transaction")
	defer span.End()

	var err error
	for attempt := 1; ; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil {
			observability.StoreTransactions.WithLabelValues("committed").Inc()
			span.SetAttributes(attribute.Int("attempts", attempt))
			return nil
		}
		if !isBusy(err) || attempt > db.busyRetries {
			break
		}

		observability.StoreTransactions.WithLabelValues("busy_retry").Inc()
		db.logger.Warn("Database busy, retrying transaction",
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(db.busyBackoff * time.Duration(attempt)):
		}
	}

	observability.StoreTransactions.WithLabelValues("rolled_back").Inc()
	span.RecordError(err)
	return err
}

func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InTransaction reports whether ctx carries an open transaction
func InTransaction(ctx context.Context) bool {
	return extractTx(ctx) != nil
}

func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// isBusy reports whether err is SQLite refusing a lock held by another connection
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// getExecutor returns the transaction carried by ctx, or the pool
func (db *DB) getExecutor(ctx context.Context) executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// executor covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ port.TransactionManager = (*DB)(nil)
