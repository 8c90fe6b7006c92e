package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
)

// Record stores the outcome of a test case within a session. Any status may follow
// any other. Recording NOT_TESTED is the same as Reset. Last write wins unless
// IfStatus is set, in which case a mismatch returns a ConflictError.
func (e *Engine) Record(ctx context.Context, sessionID, caseID int64, res models.ExecutionResult) (*models.Execution, error) {
	if !models.IsExecutionStatus(res.Status) {
		return nil, invalid(InvalidStatus, "invalid execution status %q", res.Status)
	}
	if res.IfStatus != "" && !models.IsExecutionStatus(res.IfStatus) {
		return nil, invalid(InvalidStatus, "invalid expected status %q", res.IfStatus)
	}
	if res.Status == models.StatusNotTested {
		return e.reset(ctx, sessionID, caseID, res.IfStatus)
	}

	var execution *models.Execution
	var pending []events.Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		session, current, err := e.loadExecution(ctx, sessionID, caseID)
		if err != nil {
			return err
		}
		if err := checkExpected(current, res.IfStatus); err != nil {
			return err
		}

		executedBy := strings.TrimSpace(res.ExecutedBy)
		if executedBy == "" {
			executedBy = session.ExecutedBy
		}
		if executedBy == "" {
			return invalid(MissingExecutor, "executed_by is required to record a result")
		}
		environment := res.Environment
		if environment == "" {
			environment = current.Environment
		}

		now := e.now()
		current.Status = res.Status
		current.ExecutedBy = executedBy
		current.ExecutedAt = &now
		current.Environment = environment
		current.ResultDetail = res.ResultDetail
		current.Notes = res.Notes
		if err := e.store.UpdateExecution(ctx, current); err != nil {
			return err
		}
		execution = current

		ev := events.New(events.TypeExecutionRecorded, session.ProjectID, sessionID, now)
		ev.TestCaseID = caseID
		ev.Status = res.Status
		pending = append(pending, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Execution recorded",
		slog.Int64("session_id", sessionID),
		slog.Int64("test_case_id", caseID),
		slog.String("status", execution.Status))
	e.publish(ctx, pending...)
	return execution, nil
}

// Reset moves an execution back to NOT_TESTED and clears everything recorded on it.
// Session completion is left untouched.
func (e *Engine) Reset(ctx context.Context, sessionID, caseID int64) (*models.Execution, error) {
	return e.reset(ctx, sessionID, caseID, "")
}

func (e *Engine) reset(ctx context.Context, sessionID, caseID int64, ifStatus string) (*models.Execution, error) {
	var execution *models.Execution
	var pending []events.Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		session, current, err := e.loadExecution(ctx, sessionID, caseID)
		if err != nil {
			return err
		}
		if err := checkExpected(current, ifStatus); err != nil {
			return err
		}

		current.Status = models.StatusNotTested
		current.ExecutedBy = ""
		current.ExecutedAt = nil
		current.ResultDetail = ""
		current.Notes = ""
		if err := e.store.UpdateExecution(ctx, current); err != nil {
			return err
		}
		execution = current

		ev := events.New(events.TypeExecutionReset, session.ProjectID, sessionID, e.now())
		ev.TestCaseID = caseID
		ev.Status = models.StatusNotTested
		pending = append(pending, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Execution reset", slog.Int64("session_id", sessionID), slog.Int64("test_case_id", caseID))
	e.publish(ctx, pending...)
	return execution, nil
}

// loadExecution fetches the session and the execution of caseID within it.
func (e *Engine) loadExecution(ctx context.Context, sessionID, caseID int64) (*models.TestSession, *models.Execution, error) {
	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	execution, err := e.store.GetExecution(ctx, sessionID, caseID)
	if err != nil {
		return nil, nil, err
	}
	if execution == nil {
		tc, err := e.store.GetCase(ctx, caseID)
		if err != nil {
			return nil, nil, err
		}
		if tc == nil {
			return nil, nil, notFound("test case", caseID)
		}
		return nil, nil, notFound("execution for test case", caseID)
	}
	return session, execution, nil
}

func checkExpected(current *models.Execution, expected string) error {
	if expected != "" && current.Status != expected {
		return &ConflictError{
			SessionID:  current.SessionID,
			TestCaseID: current.TestCaseID,
			Expected:   expected,
			Actual:     current.Status,
		}
	}
	return nil
}
