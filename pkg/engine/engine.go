// Package engine runs test sessions: it freezes a session's scope, records
// execution results, derives progress and completion, and bulk-skips what is left.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"
)

// BulkSkipNote is written to the notes of every execution skipped by SkipRemaining.
const BulkSkipNote = "bulk-skip"

// Engine coordinates sessions and executions on top of a storage.Store.
type Engine struct {
	store       storage.Store
	publisher   events.Publisher
	logger      *slog.Logger
	now         func() time.Time
	strictScope bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where lifecycle events go after each committed change.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStrictScope makes an empty scope fail session creation unless the request says otherwise.
func WithStrictScope(strict bool) Option {
	return func(e *Engine) { e.strictScope = strict }
}

// New creates an Engine.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		publisher: events.Noop{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// publish sends events collected during a committed transaction.
// Failures are logged and never surface to the caller.
func (e *Engine) publish(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn("Failed to publish event",
				slog.String("type", ev.Type),
				slog.Int64("session_id", ev.SessionID),
				slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) loadSession(ctx context.Context, sessionID int64) (*models.TestSession, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, notFound("test session", sessionID)
	}
	return session, nil
}

// GetSession returns a session by id.
func (e *Engine) GetSession(ctx context.Context, sessionID int64) (*models.TestSession, error) {
	return e.loadSession(ctx, sessionID)
}

// ListSessions returns the sessions of a project, newest first.
func (e *Engine) ListSessions(ctx context.Context, projectID int64) ([]models.TestSession, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, notFound("project", projectID)
	}
	return e.store.ListSessions(ctx, projectID)
}
