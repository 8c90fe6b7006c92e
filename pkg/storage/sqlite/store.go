package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Ensure Store implements storage.Store interface at compile time
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on a local SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// dbExecutor is satisfied by both *sql.DB and *sql.Tx.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txKey is used as a key for storing the transaction in context
type txKey struct{}

// NewStore opens (or creates) the SQLite database at path. Use ":memory:" for a throwaway DB.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping sqlite database: %w", err)
	}
	logger.Info("SQLite database opened", slog.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.logger.Info("Closing sqlite storage")
	return s.db.Close()
}

// InTx executes fn within a transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		// Already inside a transaction; join it.
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// conn returns the transaction bound to ctx, or the database itself.
func (s *Store) conn(ctx context.Context) dbExecutor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.conn(ctx).ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	s.logger.Info("SQLite schema is up to date", slog.Int("statements", len(schema)))
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS test_suites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS test_cases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		suite_id INTEGER NOT NULL REFERENCES test_suites(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		prerequisites TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'DRAFT' CHECK (status IN ('DRAFT', 'ACTIVE', 'DEPRECATED')),
		priority TEXT NOT NULL DEFAULT 'MEDIUM' CHECK (priority IN ('HIGH', 'MEDIUM', 'LOW')),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (suite_id, title)
	)`,
	`CREATE TABLE IF NOT EXISTS test_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_case_id INTEGER NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
		step_order INTEGER NOT NULL CHECK (step_order > 0),
		description TEXT NOT NULL DEFAULT '',
		expected_result TEXT NOT NULL DEFAULT '',
		UNIQUE (test_case_id, step_order)
	)`,
	`CREATE TABLE IF NOT EXISTS test_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		executed_by TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_test_sessions_project_name ON test_sessions (project_id, name)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_session_id INTEGER NOT NULL REFERENCES test_sessions(id) ON DELETE CASCADE,
		test_case_id INTEGER NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'NOT_TESTED' CHECK (status IN ('NOT_TESTED', 'PASS', 'FAIL', 'BLOCKED', 'SKIPPED')),
		executed_by TEXT NOT NULL DEFAULT '',
		executed_at DATETIME,
		result_detail TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT '',
		UNIQUE (test_session_id, test_case_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_session_status ON executions (test_session_id, status)`,
}
