package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteParams serialize writers at BEGIN and wait on a locked file instead of failing fast.
const sqliteParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"

// Options configures New.
type Options struct {
	Driver     string
	URL        string
	MaxRetries int
	TxTimeout  time.Duration
	Logger     *slog.Logger
	// OnRetry is called before a conflicting transaction is re-run.
	OnRetry func(attempt int, err error)
}

// DB wraps the sql.DB connection
type DB struct {
	Conn    *sql.DB
	Dialect Dialect

	maxRetries int
	txTimeout  time.Duration
	logger     *slog.Logger
	onRetry    func(attempt int, err error)
}

// New creates a new database connection and runs migrations
func New(ctx context.Context, opts Options) (*DB, error) {
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.URL
	if dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{
		Conn:       conn,
		Dialect:    dialect,
		maxRetries: opts.MaxRetries,
		txTimeout:  opts.TxTimeout,
		logger:     logger,
		onRetry:    opts.OnRetry,
	}

	if err := db.runMigrations(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.InfoContext(ctx, "database initialized", "driver", string(dialect))
	return db, nil
}

// runMigrations creates the contacts table and its lookup indexes.
func (db *DB) runMigrations(ctx context.Context) error {
	if _, err := db.Conn.ExecContext(ctx, db.Dialect.schema()); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Conn.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_txlock") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + sqliteParams
	}
	return path + "?" + sqliteParams
}
