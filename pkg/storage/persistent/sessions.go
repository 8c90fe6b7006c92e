package persistent

import (
	"context"
	"database/sql" // Nullable column helpers
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"

	"github.com/jackc/pgx/v5"
)

const (
	sessionColumns = `id, project_id, name, description, executed_by, environment, started_at, completed_at`
	insertSession  = `
		INSERT INTO test_sessions (project_id, name, description, executed_by, environment, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id;
	`
	getSessionSQL        = `SELECT ` + sessionColumns + ` FROM test_sessions WHERE id = $1;`
	listSessionsSQL      = `SELECT ` + sessionColumns + ` FROM test_sessions WHERE project_id = $1 ORDER BY started_at DESC, id DESC;`
	sessionNameExistsSQL = `SELECT EXISTS (SELECT 1 FROM test_sessions WHERE project_id = $1 AND name = $2);`
	completeSessionSQL   = `UPDATE test_sessions SET completed_at = $2 WHERE id = $1;`

	executionColumns = `id, test_session_id, test_case_id, status, executed_by, executed_at, result_detail, notes, environment`
	// UPSERT that never overwrites: the (session, case) pair keeps its first row.
	ensureExecutionSQL = `
		INSERT INTO executions (test_session_id, test_case_id, status, executed_by, executed_at, result_detail, notes, environment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (test_session_id, test_case_id) DO NOTHING;
	`
	listExecutionsSQL  = `SELECT ` + executionColumns + ` FROM executions WHERE test_session_id = $1 ORDER BY id;`
	getExecutionSQL    = `SELECT ` + executionColumns + ` FROM executions WHERE test_session_id = $1 AND test_case_id = $2;`
	updateExecutionSQL = `
		UPDATE executions
		SET status = $2, executed_by = $3, executed_at = $4, result_detail = $5, notes = $6, environment = $7
		WHERE id = $1;
	`
	skipPendingSQL = `
		UPDATE executions
		SET status = $2, executed_by = $3, executed_at = $4, notes = $5
		WHERE test_session_id = $1 AND status = $6;
	`
)

func scanSession(row pgx.Row) (*models.TestSession, error) {
	var ts models.TestSession
	var completedAt sql.NullTime
	if err := row.Scan(&ts.ID, &ts.ProjectID, &ts.Name, &ts.Description, &ts.ExecutedBy,
		&ts.Environment, &ts.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		ts.CompletedAt = &t
	}
	return &ts, nil
}

func scanExecution(row pgx.Row) (*models.Execution, error) {
	var e models.Execution
	var executedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.SessionID, &e.TestCaseID, &e.Status, &e.ExecutedBy,
		&executedAt, &e.ResultDetail, &e.Notes, &e.Environment); err != nil {
		return nil, err
	}
	if executedAt.Valid {
		t := executedAt.Time
		e.ExecutedAt = &t
	}
	return &e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, session *models.TestSession) error {
	err := s.conn(ctx).QueryRow(ctx, insertSession,
		session.ProjectID, session.Name, session.Description, session.ExecutedBy,
		session.Environment, session.StartedAt, nullTime(session.CompletedAt),
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("failed to insert session %q: %w", session.Name, err)
	}
	s.logger.Info("Created test session", slog.Int64("session_id", session.ID), slog.Int64("project_id", session.ProjectID))
	return nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*models.TestSession, error) {
	ts, err := scanSession(s.conn(ctx).QueryRow(ctx, getSessionSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %d: %w", id, err)
	}
	return ts, nil
}

// ListSessions returns the sessions of a project, newest first.
func (s *Store) ListSessions(ctx context.Context, projectID int64) ([]models.TestSession, error) {
	rows, err := s.conn(ctx).Query(ctx, listSessionsSQL, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions of project %d: %w", projectID, err)
	}
	defer rows.Close()

	sessions := []models.TestSession{}
	for rows.Next() {
		ts, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *ts)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// SessionNameExists checks whether the project already has a session with this name.
func (s *Store) SessionNameExists(ctx context.Context, projectID int64, name string) (bool, error) {
	var exists bool
	if err := s.conn(ctx).QueryRow(ctx, sessionNameExistsSQL, projectID, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check session name %q: %w", name, err)
	}
	return exists, nil
}

// CompleteSession sets completed_at.
func (s *Store) CompleteSession(ctx context.Context, id int64, at time.Time) error {
	cmdTag, err := s.conn(ctx).Exec(ctx, completeSessionSQL, id, at)
	if err != nil {
		return fmt.Errorf("failed to complete session %d: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		s.logger.Warn("Attempted to complete non-existent session", slog.Int64("session_id", id))
	}
	return nil
}

// EnsureExecution inserts the execution unless (session, case) already has one.
func (s *Store) EnsureExecution(ctx context.Context, execution *models.Execution) (bool, error) {
	cmdTag, err := s.conn(ctx).Exec(ctx, ensureExecutionSQL,
		execution.SessionID, execution.TestCaseID, execution.Status, execution.ExecutedBy,
		nullTime(execution.ExecutedAt), execution.ResultDetail, execution.Notes, execution.Environment,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution for case %d: %w", execution.TestCaseID, err)
	}

	stored, err := s.GetExecution(ctx, execution.SessionID, execution.TestCaseID)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, fmt.Errorf("execution for case %d vanished after insert", execution.TestCaseID)
	}
	*execution = *stored
	return cmdTag.RowsAffected() > 0, nil
}

// ListExecutions returns the executions of a session in creation order.
func (s *Store) ListExecutions(ctx context.Context, sessionID int64) ([]models.Execution, error) {
	rows, err := s.conn(ctx).Query(ctx, listExecutionsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions of session %d: %w", sessionID, err)
	}
	defer rows.Close()

	executions := []models.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		executions = append(executions, *e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return executions, nil
}

// GetExecution retrieves the execution of a case within a session.
func (s *Store) GetExecution(ctx context.Context, sessionID, caseID int64) (*models.Execution, error) {
	e, err := scanExecution(s.conn(ctx).QueryRow(ctx, getExecutionSQL, sessionID, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution of case %d in session %d: %w", caseID, sessionID, err)
	}
	return e, nil
}

// UpdateExecution overwrites the mutable fields of an execution.
func (s *Store) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	cmdTag, err := s.conn(ctx).Exec(ctx, updateExecutionSQL,
		execution.ID, execution.Status, execution.ExecutedBy, nullTime(execution.ExecutedAt),
		execution.ResultDetail, execution.Notes, execution.Environment,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %d: %w", execution.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("execution %d not found for update", execution.ID)
	}
	return nil
}

// SkipPendingExecutions marks all NOT_TESTED executions of the session as SKIPPED.
func (s *Store) SkipPendingExecutions(ctx context.Context, sessionID int64, executedBy string, at time.Time, notes string) (int64, error) {
	cmdTag, err := s.conn(ctx).Exec(ctx, skipPendingSQL,
		sessionID, models.StatusSkipped, executedBy, at, notes, models.StatusNotTested)
	if err != nil {
		return 0, fmt.Errorf("failed to skip pending executions of session %d: %w", sessionID, err)
	}
	return cmdTag.RowsAffected(), nil
}
