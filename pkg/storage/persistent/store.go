package persistent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"

	"github.com/jackc/pgx/v5"         // Import pgx directly for Rows handling
	"github.com/jackc/pgx/v5/pgconn"  // Command tags
	"github.com/jackc/pgx/v5/pgxpool" // Using pgx pool
)

// Ensure Store implements storage.Store interface at compile time
var _ storage.Store = (*Store)(nil)

// Store implements the storage.Store interface using PostgreSQL.
type Store struct {
	db     *pgxpool.Pool // PostgreSQL connection pool
	logger *slog.Logger
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// NewStore creates a new persistent store instance.
func NewStore(ctx context.Context, pgDSN string, logger *slog.Logger) (*Store, error) {
	// --- Connect to PostgreSQL ---
	dbpool, err := pgxpool.New(ctx, pgDSN)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("PostgreSQL connection pool established")

	return &Store{db: dbpool, logger: logger}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.logger.Info("Closing persistent storage connections")
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// InTx executes fn within a transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.db
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		for i, stmt := range schema {
			if _, err := s.conn(ctx).Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
			}
		}
		s.logger.Info("PostgreSQL schema is up to date", slog.Int("statements", len(schema)))
		return nil
	})
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(200) NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS test_suites (
		id BIGSERIAL PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS test_cases (
		id BIGSERIAL PRIMARY KEY,
		suite_id BIGINT NOT NULL REFERENCES test_suites(id) ON DELETE CASCADE,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		prerequisites TEXT NOT NULL DEFAULT '',
		status VARCHAR(10) NOT NULL DEFAULT 'DRAFT' CHECK (status IN ('DRAFT', 'ACTIVE', 'DEPRECATED')),
		priority VARCHAR(6) NOT NULL DEFAULT 'MEDIUM' CHECK (priority IN ('HIGH', 'MEDIUM', 'LOW')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (suite_id, title)
	)`,
	`CREATE TABLE IF NOT EXISTS test_steps (
		id BIGSERIAL PRIMARY KEY,
		test_case_id BIGINT NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
		step_order INT NOT NULL CHECK (step_order > 0),
		description TEXT NOT NULL DEFAULT '',
		expected_result TEXT NOT NULL DEFAULT '',
		UNIQUE (test_case_id, step_order)
	)`,
	`CREATE TABLE IF NOT EXISTS test_sessions (
		id BIGSERIAL PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		executed_by VARCHAR(100) NOT NULL DEFAULT '',
		environment VARCHAR(200) NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_test_sessions_project_name ON test_sessions (project_id, name)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id BIGSERIAL PRIMARY KEY,
		test_session_id BIGINT NOT NULL REFERENCES test_sessions(id) ON DELETE CASCADE,
		test_case_id BIGINT NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
		status VARCHAR(10) NOT NULL DEFAULT 'NOT_TESTED' CHECK (status IN ('NOT_TESTED', 'PASS', 'FAIL', 'BLOCKED', 'SKIPPED')),
		executed_by VARCHAR(100) NOT NULL DEFAULT '',
		executed_at TIMESTAMPTZ,
		result_detail TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		environment VARCHAR(200) NOT NULL DEFAULT '',
		UNIQUE (test_session_id, test_case_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_session_status ON executions (test_session_id, status)`,
}
