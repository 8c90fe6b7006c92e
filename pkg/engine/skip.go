package engine

import (
	"context"
	"log/slog"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
)

// SkipRemaining marks every NOT_TESTED execution of the session as SKIPPED and
// completes the session, in one transaction. Calling it again is harmless.
// It returns the number of executions that were skipped.
func (e *Engine) SkipRemaining(ctx context.Context, sessionID int64) (int64, error) {
	var skipped int64
	var pending []events.Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		session, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}

		now := e.now()
		skipped, err = e.store.SkipPendingExecutions(ctx, sessionID, session.ExecutedBy, now, BulkSkipNote)
		if err != nil {
			return err
		}
		if err := e.store.CompleteSession(ctx, sessionID, now); err != nil {
			return err
		}

		ev := events.New(events.TypeSessionSkipped, session.ProjectID, sessionID, now)
		ev.Count = skipped
		pending = append(pending, ev)
		// Completion is announced once, by the call that closed the session.
		if !session.Completed() {
			pending = append(pending, events.New(events.TypeSessionCompleted, session.ProjectID, sessionID, now))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info("Skipped remaining executions",
		slog.Int64("session_id", sessionID),
		slog.Int64("skipped", skipped))
	e.publish(ctx, pending...)
	return skipped, nil
}
