package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
)

const (
	sessionColumns   = `id, project_id, name, description, executed_by, environment, started_at, completed_at`
	executionColumns = `id, test_session_id, test_case_id, status, executed_by, executed_at, result_detail, notes, environment`
)

func scanSession(row rowScanner) (*models.TestSession, error) {
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

func scanExecution(row rowScanner) (*models.Execution, error) {
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
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO test_sessions (project_id, name, description, executed_by, environment, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ProjectID, session.Name, session.Description, session.ExecutedBy,
		session.Environment, session.StartedAt, nullTime(session.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %q: %w", session.Name, err)
	}
	if session.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("get last insert id failed: %w", err)
	}
	s.logger.Info("Created test session", slog.Int64("session_id", session.ID), slog.Int64("project_id", session.ProjectID))
	return nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*models.TestSession, error) {
	ts, err := scanSession(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %d: %w", id, err)
	}
	return ts, nil
}

// ListSessions returns the sessions of a project, newest first.
func (s *Store) ListSessions(ctx context.Context, projectID int64) ([]models.TestSession, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE project_id = ? ORDER BY started_at DESC, id DESC`, projectID)
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
	return sessions, rows.Err()
}

// SessionNameExists checks whether the project already has a session with this name.
func (s *Store) SessionNameExists(ctx context.Context, projectID int64, name string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM test_sessions WHERE project_id = ? AND name = ?)`,
		projectID, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check session name %q: %w", name, err)
	}
	return exists, nil
}

// CompleteSession sets completed_at.
func (s *Store) CompleteSession(ctx context.Context, id int64, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `UPDATE test_sessions SET completed_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to complete session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Warn("Attempted to complete non-existent session", slog.Int64("session_id", id))
	}
	return nil
}

// EnsureExecution inserts the execution unless (session, case) already has one.
func (s *Store) EnsureExecution(ctx context.Context, execution *models.Execution) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO executions (test_session_id, test_case_id, status, executed_by, executed_at, result_detail, notes, environment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (test_session_id, test_case_id) DO NOTHING`,
		execution.SessionID, execution.TestCaseID, execution.Status, execution.ExecutedBy,
		nullTime(execution.ExecutedAt), execution.ResultDetail, execution.Notes, execution.Environment,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution for case %d: %w", execution.TestCaseID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	stored, err := s.GetExecution(ctx, execution.SessionID, execution.TestCaseID)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, fmt.Errorf("execution for case %d vanished after insert", execution.TestCaseID)
	}
	*execution = *stored
	return n > 0, nil
}

// ListExecutions returns the executions of a session in creation order.
func (s *Store) ListExecutions(ctx context.Context, sessionID int64) ([]models.Execution, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE test_session_id = ? ORDER BY id`, sessionID)
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
	return executions, rows.Err()
}

// GetExecution retrieves the execution of a case within a session.
func (s *Store) GetExecution(ctx context.Context, sessionID, caseID int64) (*models.Execution, error) {
	e, err := scanExecution(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE test_session_id = ? AND test_case_id = ?`,
		sessionID, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution of case %d in session %d: %w", caseID, sessionID, err)
	}
	return e, nil
}

// UpdateExecution overwrites the mutable fields of an execution.
func (s *Store) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE executions
		SET status = ?, executed_by = ?, executed_at = ?, result_detail = ?, notes = ?, environment = ?
		WHERE id = ?`,
		execution.Status, execution.ExecutedBy, nullTime(execution.ExecutedAt),
		execution.ResultDetail, execution.Notes, execution.Environment, execution.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %d: %w", execution.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %d not found for update", execution.ID)
	}
	return nil
}

// SkipPendingExecutions marks all NOT_TESTED executions of the session as SKIPPED.
func (s *Store) SkipPendingExecutions(ctx context.Context, sessionID int64, executedBy string, at time.Time, notes string) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE executions
		SET status = ?, executed_by = ?, executed_at = ?, notes = ?
		WHERE test_session_id = ? AND status = ?`,
		models.StatusSkipped, executedBy, at, notes, sessionID, models.StatusNotTested,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to skip pending executions of session %d: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
