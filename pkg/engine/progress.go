package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
)

// GetProgress aggregates the executions of a session. When nothing is pending and
// the session is still open, it completes the session as part of the call.
func (e *Engine) GetProgress(ctx context.Context, sessionID int64) (*models.Progress, error) {
	var progress *models.Progress
	var pending []events.Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		session, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		executions, err := e.store.ListExecutions(ctx, sessionID)
		if err != nil {
			return err
		}

		progress = &models.Progress{
			SessionID:      session.ID,
			SessionName:    session.Name,
			TotalCount:     len(executions),
			RemainingCases: []models.TestCase{},
		}
		for _, ex := range executions {
			if !ex.Pending() {
				progress.CompletedCount++
				continue
			}
			tc, err := e.store.GetCase(ctx, ex.TestCaseID)
			if err != nil {
				return err
			}
			if tc == nil {
				return notFound("test case", ex.TestCaseID)
			}
			progress.RemainingCases = append(progress.RemainingCases, *tc)
		}
		if progress.TotalCount > 0 {
			progress.ProgressPercent = float64(progress.CompletedCount) * 100 / float64(progress.TotalCount)
		}

		ev, err := e.checkAndComplete(ctx, session, executions)
		if err != nil {
			return err
		}
		if ev != nil {
			pending = append(pending, *ev)
		}
		progress.Completed = session.Completed()
		progress.CompletedAt = session.CompletedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, pending...)
	return progress, nil
}

// CheckAndComplete completes the session when no execution is pending.
// It reports whether the session is completed after the call.
func (e *Engine) CheckAndComplete(ctx context.Context, sessionID int64) (bool, error) {
	var completed bool
	var pending []events.Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		session, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		executions, err := e.store.ListExecutions(ctx, sessionID)
		if err != nil {
			return err
		}
		ev, err := e.checkAndComplete(ctx, session, executions)
		if err != nil {
			return err
		}
		if ev != nil {
			pending = append(pending, *ev)
		}
		completed = session.Completed()
		return nil
	})
	if err != nil {
		return false, err
	}
	e.publish(ctx, pending...)
	return completed, nil
}

// checkAndComplete stamps completed_at on an open session with no pending
// executions and returns the event to publish, if any. session is updated in place.
func (e *Engine) checkAndComplete(ctx context.Context, session *models.TestSession, executions []models.Execution) (*events.Event, error) {
	if session.Completed() {
		return nil, nil
	}
	for i := range executions {
		if executions[i].Pending() {
			return nil, nil
		}
	}
	now := e.now()
	if err := e.store.CompleteSession(ctx, session.ID, now); err != nil {
		return nil, err
	}
	session.CompletedAt = &now
	e.logger.Info("Test session completed", slog.Int64("session_id", session.ID))
	ev := events.New(events.TypeSessionCompleted, session.ProjectID, session.ID, now)
	return &ev, nil
}

// GetNext returns the execution to work on. A preferred case that is part of the
// session is returned whatever its status. Otherwise the first NOT_TESTED execution
// in creation order is returned. A nil result means nothing is pending.
func (e *Engine) GetNext(ctx context.Context, sessionID int64, preferredCaseID *int64) (*models.NextExecution, error) {
	var next *models.NextExecution
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := e.loadSession(ctx, sessionID); err != nil {
			return err
		}
		executions, err := e.store.ListExecutions(ctx, sessionID)
		if err != nil {
			return err
		}

		idx := -1
		if preferredCaseID != nil {
			for i := range executions {
				if executions[i].TestCaseID == *preferredCaseID {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			for i := range executions {
				if executions[i].Pending() {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			return nil
		}

		tc, err := e.store.GetCase(ctx, executions[idx].TestCaseID)
		if err != nil {
			return err
		}
		if tc == nil {
			return notFound("test case", executions[idx].TestCaseID)
		}
		next = &models.NextExecution{
			Execution:  executions[idx],
			TestCase:   *tc,
			Number:     idx + 1,
			TotalCount: len(executions),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Summary counts executions per status. PassRate is floored.
func (e *Engine) Summary(ctx context.Context, sessionID int64) (*models.Summary, error) {
	var summary *models.Summary
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := e.loadSession(ctx, sessionID); err != nil {
			return err
		}
		executions, err := e.store.ListExecutions(ctx, sessionID)
		if err != nil {
			return err
		}

		summary = &models.Summary{SessionID: sessionID, TotalCount: len(executions)}
		for _, ex := range executions {
			switch ex.Status {
			case models.StatusPass:
				summary.PassCount++
			case models.StatusFail:
				summary.FailCount++
			case models.StatusBlocked:
				summary.BlockedCount++
			case models.StatusSkipped:
				summary.SkippedCount++
			default:
				summary.PendingCount++
			}
		}
		if summary.TotalCount > 0 {
			summary.PassRate = summary.PassCount * 100 / summary.TotalCount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// SessionDetail returns the session with every case and its execution, ordered by
// case title, plus the suites those cases come from.
func (e *Engine) SessionDetail(ctx context.Context, sessionID int64) (*models.SessionDetail, error) {
	var detail *models.SessionDetail
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		session, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		executions, err := e.store.ListExecutions(ctx, sessionID)
		if err != nil {
			return err
		}

		detail = &models.SessionDetail{Session: *session, Executions: make([]models.CaseExecution, 0, len(executions))}
		caseIDs := make([]int64, 0, len(executions))
		for _, ex := range executions {
			tc, err := e.store.GetCase(ctx, ex.TestCaseID)
			if err != nil {
				return err
			}
			if tc == nil {
				return notFound("test case", ex.TestCaseID)
			}
			detail.Executions = append(detail.Executions, models.CaseExecution{TestCase: *tc, Execution: ex})
			caseIDs = append(caseIDs, ex.TestCaseID)
		}
		sort.SliceStable(detail.Executions, func(i, j int) bool {
			return detail.Executions[i].TestCase.Title < detail.Executions[j].TestCase.Title
		})

		detail.Suites, err = e.store.ListSuitesForCases(ctx, caseIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}
