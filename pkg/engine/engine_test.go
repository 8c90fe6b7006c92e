package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage/sqlite"
)

type fixture struct {
	engine   *Engine
	store    *sqlite.Store
	recorder *events.Recorder
	now      time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "engine.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	f := &fixture{
		store:    store,
		recorder: &events.Recorder{},
		now:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	opts = append([]Option{
		WithPublisher(f.recorder),
		WithClock(func() time.Time { return f.now }),
	}, opts...)
	f.engine = New(store, logger, opts...)
	return f
}

func (f *fixture) tick(d time.Duration) { f.now = f.now.Add(d) }

// useStore rebuilds the engine on top of store, which usually wraps f.store.
func (f *fixture) useStore(store storage.Store) {
	f.engine = New(store, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithPublisher(f.recorder),
		WithClock(func() time.Time { return f.now }))
}

func (f *fixture) project(t *testing.T, name string) *models.Project {
	t.Helper()
	p := &models.Project{Name: name}
	require.NoError(t, f.store.UpsertProject(context.Background(), p))
	return p
}

func (f *fixture) suite(t *testing.T, projectID int64, name string) *models.TestSuite {
	t.Helper()
	s := &models.TestSuite{ProjectID: projectID, Name: name}
	require.NoError(t, f.store.UpsertSuite(context.Background(), s))
	return s
}

func (f *fixture) testCase(t *testing.T, suiteID int64, title string, stepOrders ...int) *models.TestCase {
	t.Helper()
	ctx := context.Background()
	tc := &models.TestCase{SuiteID: suiteID, Title: title}
	tc.Normalize()
	require.NoError(t, f.store.UpsertCase(ctx, tc))
	for _, order := range stepOrders {
		step := &models.TestStep{TestCaseID: tc.ID, Order: order, Description: title + " step"}
		require.NoError(t, f.store.UpsertStep(ctx, step))
	}
	return tc
}

func (f *fixture) executions(t *testing.T, sessionID int64) []models.Execution {
	t.Helper()
	list, err := f.store.ListExecutions(context.Background(), sessionID)
	require.NoError(t, err)
	return list
}

func (f *fixture) session(t *testing.T, sessionID int64) *models.TestSession {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func caseIDs(executions []models.Execution) []int64 {
	ids := make([]int64, 0, len(executions))
	for _, e := range executions {
		ids = append(ids, e.TestCaseID)
	}
	return ids
}

// assertCoupling checks that NOT_TESTED, a nil executed_at and an empty executed_by always go together.
func assertCoupling(t *testing.T, executions []models.Execution) {
	t.Helper()
	for _, e := range executions {
		pending := e.Status == models.StatusNotTested
		assert.Equal(t, pending, e.ExecutedAt == nil, "execution %d executed_at", e.ID)
		assert.Equal(t, pending, e.ExecutedBy == "", "execution %d executed_by", e.ID)
	}
}

func request(by string, scope models.ScopeSelector) models.SessionRequest {
	return models.SessionRequest{Name: "Regression", ExecutedBy: by, Environment: "staging", Scope: scope}
}

func TestDefaultScopeCoversProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1", 2, 1)

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	assert.False(t, session.Completed())
	assert.Equal(t, "alice", session.ExecutedBy)

	executions := f.executions(t, session.ID)
	require.Len(t, executions, 1)
	assert.Equal(t, c1.ID, executions[0].TestCaseID)
	assert.Equal(t, models.StatusNotTested, executions[0].Status)
	assert.Equal(t, "staging", executions[0].Environment)
	assertCoupling(t, executions)

	progress, err := f.engine.GetProgress(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.TotalCount)
	assert.Equal(t, 0, progress.CompletedCount)
	assert.Equal(t, 0.0, progress.ProgressPercent)
	assert.False(t, progress.Completed)
	require.Len(t, progress.RemainingCases, 1)
	assert.Equal(t, "C1", progress.RemainingCases[0].Title)
	require.Len(t, progress.RemainingCases[0].Steps, 2)
	assert.Equal(t, 1, progress.RemainingCases[0].Steps[0].Order)
	assert.Equal(t, 2, progress.RemainingCases[0].Steps[1].Order)

	assert.Equal(t, []string{events.TypeSessionCreated}, f.recorder.Types())
}

func TestRecordCompletesOnProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)

	f.tick(time.Minute)
	execution, err := f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusPass, ResultDetail: "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPass, execution.Status)
	assert.Equal(t, "alice", execution.ExecutedBy)
	assert.Equal(t, "ok", execution.ResultDetail)
	require.NotNil(t, execution.ExecutedAt)
	assert.True(t, execution.ExecutedAt.Equal(f.now))

	// Recording alone does not complete the session.
	assert.False(t, f.session(t, session.ID).Completed())

	f.tick(time.Minute)
	progress, err := f.engine.GetProgress(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedCount)
	assert.Equal(t, 100.0, progress.ProgressPercent)
	assert.Empty(t, progress.RemainingCases)
	assert.True(t, progress.Completed)

	stored := f.session(t, session.ID)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(f.now))

	// A second observation keeps the first completion time.
	f.tick(time.Minute)
	_, err = f.engine.GetProgress(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, f.session(t, session.ID).CompletedAt.Equal(stored.CompletedAt.UTC()))

	want := []string{events.TypeSessionCreated, events.TypeExecutionRecorded, events.TypeSessionCompleted}
	if diff := cmp.Diff(want, f.recorder.Types()); diff != "" {
		t.Errorf("published events mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateSessionRejectsForeignCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	other := f.project(t, "Other")
	s := f.suite(t, p.ID, "S")
	own := f.testCase(t, s.ID, "C1")
	foreign := f.testCase(t, f.suite(t, other.ID, "S").ID, "C9")

	_, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{CaseIDs: []int64{own.ID, foreign.ID}}))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, InvalidScope, verr.Kind)
	assert.Equal(t, []int64{foreign.ID}, verr.IDs)
	assert.Contains(t, verr.Message, "test cases")

	for _, projectID := range []int64{p.ID, other.ID} {
		sessions, err := f.store.ListSessions(ctx, projectID)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	}
	assert.Empty(t, f.recorder.Events())
}

func TestCreateSessionRejectsForeignSuites(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "P")
	other := f.project(t, "Other")
	foreignSuite := f.suite(t, other.ID, "S")

	_, err := f.engine.CreateSession(context.Background(), p.ID,
		request("alice", models.ScopeSelector{SuiteIDs: []int64{foreignSuite.ID, 999}}))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, InvalidScope, verr.Kind)
	assert.Equal(t, []int64{foreignSuite.ID, 999}, verr.IDs)
	assert.Contains(t, verr.Message, "test suites")
}

func TestSkipRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	f.testCase(t, s.ID, "C1")
	f.testCase(t, s.ID, "C2")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)

	f.tick(time.Hour)
	skipped, err := f.engine.SkipRemaining(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), skipped)

	executions := f.executions(t, session.ID)
	require.Len(t, executions, 2)
	for _, e := range executions {
		assert.Equal(t, models.StatusSkipped, e.Status)
		assert.Equal(t, BulkSkipNote, e.Notes)
		assert.Equal(t, "alice", e.ExecutedBy)
		assert.Equal(t, "staging", e.Environment)
	}
	assertCoupling(t, executions)

	stored := f.session(t, session.ID)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(f.now))

	// Skipping a finished session is a harmless no-op.
	f.tick(time.Hour)
	skipped, err = f.engine.SkipRemaining(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.True(t, f.session(t, session.ID).Completed())
	assert.Len(t, f.executions(t, session.ID), 2)

	// Completion is announced only by the call that closed the session.
	assert.Equal(t, []string{
		events.TypeSessionCreated,
		events.TypeSessionSkipped, events.TypeSessionCompleted,
		events.TypeSessionSkipped,
	}, f.recorder.Types())
}

func TestSkipRemainingKeepsRecordedResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")
	f.testCase(t, s.ID, "C2")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusFail, ExecutedBy: "bob", Notes: "crash"})
	require.NoError(t, err)

	skipped, err := f.engine.SkipRemaining(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), skipped)

	executions := f.executions(t, session.ID)
	assert.Equal(t, models.StatusFail, executions[0].Status)
	assert.Equal(t, "bob", executions[0].ExecutedBy)
	assert.Equal(t, "crash", executions[0].Notes)
	assert.Equal(t, models.StatusSkipped, executions[1].Status)

	summary, err := f.engine.Summary(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.Summary{SessionID: session.ID, TotalCount: 2, FailCount: 1, SkippedCount: 1}, summary)
}

func TestResetClearsExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{
		Status: models.StatusFail, ResultDetail: "500 on login", Notes: "flaky?",
	})
	require.NoError(t, err)

	execution, err := f.engine.Reset(ctx, session.ID, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotTested, execution.Status)
	assert.Nil(t, execution.ExecutedAt)
	assert.Empty(t, execution.ExecutedBy)
	assert.Empty(t, execution.ResultDetail)
	assert.Empty(t, execution.Notes)
	assert.Equal(t, "staging", execution.Environment)

	stored := f.executions(t, session.ID)
	assertCoupling(t, stored)
	assert.Equal(t, models.StatusNotTested, stored[0].Status)

	// Recording NOT_TESTED behaves like a reset.
	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusBlocked})
	require.NoError(t, err)
	execution, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusNotTested, Notes: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotTested, execution.Status)
	assert.Empty(t, execution.Notes)
	assertCoupling(t, f.executions(t, session.ID))
}

func TestGetNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")
	c2 := f.testCase(t, s.ID, "C2", 1)
	c3 := f.testCase(t, s.ID, "C3")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	_, err = f.engine.Record(ctx, session.ID, c2.ID, models.ExecutionResult{Status: models.StatusPass})
	require.NoError(t, err)

	preferred := c2.ID
	next, err := f.engine.GetNext(ctx, session.ID, &preferred)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, c2.ID, next.Execution.TestCaseID)
	assert.Equal(t, models.StatusPass, next.Execution.Status)
	assert.Equal(t, 2, next.Number)
	assert.Equal(t, 3, next.TotalCount)
	assert.Len(t, next.TestCase.Steps, 1)

	next, err = f.engine.GetNext(ctx, session.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, c1.ID, next.Execution.TestCaseID)
	assert.Equal(t, 1, next.Number)

	// A preferred case outside the session falls back to the first pending one.
	missing := int64(4242)
	next, err = f.engine.GetNext(ctx, session.ID, &missing)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, next.Execution.TestCaseID)

	for _, id := range []int64{c1.ID, c3.ID} {
		_, err = f.engine.Record(ctx, session.ID, id, models.ExecutionResult{Status: models.StatusSkipped})
		require.NoError(t, err)
	}
	next, err = f.engine.GetNext(ctx, session.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, next)

	completed, err := f.engine.CheckAndComplete(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestScopeResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	login := f.suite(t, p.ID, "Login")
	cart := f.suite(t, p.ID, "Cart")
	l1 := f.testCase(t, login.ID, "L1")
	l2 := f.testCase(t, login.ID, "L2")
	k1 := f.testCase(t, cart.ID, "K1")

	tests := []struct {
		name  string
		scope models.ScopeSelector
		want  []int64
	}{
		{name: "explicit cases keep given order", scope: models.ScopeSelector{CaseIDs: []int64{k1.ID, l1.ID, k1.ID}}, want: []int64{k1.ID, l1.ID}},
		{name: "suites", scope: models.ScopeSelector{SuiteIDs: []int64{cart.ID, login.ID}}, want: []int64{k1.ID, l1.ID, l2.ID}},
		{name: "cases and suites are merged", scope: models.ScopeSelector{CaseIDs: []int64{l2.ID}, SuiteIDs: []int64{login.ID}}, want: []int64{l2.ID, l1.ID}},
		{name: "default", scope: models.ScopeSelector{}, want: []int64{l1.ID, l2.ID, k1.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := f.engine.CreateSession(ctx, p.ID, request("alice", tt.scope))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, caseIDs(f.executions(t, session.ID))); diff != "" {
				t.Errorf("scope mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScopeIsFrozenAtCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{SuiteIDs: []int64{s.ID}}))
	require.NoError(t, err)

	f.testCase(t, s.ID, "C2")
	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusPass})
	require.NoError(t, err)
	_, err = f.engine.Reset(ctx, session.ID, c1.ID)
	require.NoError(t, err)
	_, err = f.engine.SkipRemaining(ctx, session.ID)
	require.NoError(t, err)

	assert.Equal(t, []int64{c1.ID}, caseIDs(f.executions(t, session.ID)))
}

func TestInitializeExecutionsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")
	c2 := f.testCase(t, s.ID, "C2")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusPass})
	require.NoError(t, err)

	created, err := f.engine.initializeExecutions(ctx, session, []int64{c1.ID, c2.ID, c1.ID})
	require.NoError(t, err)
	assert.Zero(t, created)

	executions := f.executions(t, session.ID)
	assert.Equal(t, []int64{c1.ID, c2.ID}, caseIDs(executions))
	assert.Equal(t, models.StatusPass, executions[0].Status)
}

func TestEmptyScope(t *testing.T) {
	strict := true
	lenient := false

	t.Run("strict rejects", func(t *testing.T) {
		f := newFixture(t)
		p := f.project(t, "P")
		req := request("alice", models.ScopeSelector{})
		req.Strict = &strict

		_, err := f.engine.CreateSession(context.Background(), p.ID, req)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, EmptyScope, verr.Kind)

		sessions, err := f.store.ListSessions(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("engine default strict", func(t *testing.T) {
		f := newFixture(t, WithStrictScope(true))
		p := f.project(t, "P")
		_, err := f.engine.CreateSession(context.Background(), p.ID, request("alice", models.ScopeSelector{}))
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, EmptyScope, verr.Kind)
	})

	t.Run("lenient completes immediately", func(t *testing.T) {
		f := newFixture(t, WithStrictScope(true))
		p := f.project(t, "P")
		req := request("alice", models.ScopeSelector{})
		req.Strict = &lenient

		session, err := f.engine.CreateSession(context.Background(), p.ID, req)
		require.NoError(t, err)
		assert.True(t, session.Completed())
		assert.True(t, f.session(t, session.ID).Completed())

		progress, err := f.engine.GetProgress(context.Background(), session.ID)
		require.NoError(t, err)
		assert.Zero(t, progress.TotalCount)
		assert.Zero(t, progress.ProgressPercent)
		assert.True(t, progress.Completed)
		assert.Equal(t, []string{events.TypeSessionCreated, events.TypeSessionCompleted}, f.recorder.Types())
	})
}

func TestValidationAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")
	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	outside := f.testCase(t, s.ID, "C2")

	var verr *ValidationError
	var nf *NotFoundError

	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: "DONE"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, InvalidStatus, verr.Kind)

	_, err = f.engine.CreateSession(ctx, p.ID, request("  ", models.ScopeSelector{}))
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, MissingExecutor, verr.Kind)

	_, err = f.engine.CreateSession(ctx, 777, request("alice", models.ScopeSelector{}))
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, &NotFoundError{Entity: "project", ID: 777}, nf)

	_, err = f.engine.Record(ctx, 999, c1.ID, models.ExecutionResult{Status: models.StatusPass})
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "test session", nf.Entity)

	_, err = f.engine.Record(ctx, session.ID, outside.ID, models.ExecutionResult{Status: models.StatusPass})
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "execution for test case", nf.Entity)

	_, err = f.engine.Reset(ctx, session.ID, 5555)
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "test case", nf.Entity)

	_, err = f.engine.GetProgress(ctx, 999)
	require.True(t, errors.As(err, &nf))
	_, err = f.engine.SkipRemaining(ctx, 999)
	require.True(t, errors.As(err, &nf))
}

func TestRecordIfStatusConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")
	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)

	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusPass, IfStatus: models.StatusNotTested})
	require.NoError(t, err)

	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusFail, IfStatus: models.StatusNotTested})
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, models.StatusPass, conflict.Actual)
	assert.Equal(t, models.StatusNotTested, conflict.Expected)

	assert.Equal(t, models.StatusPass, f.executions(t, session.ID)[0].Status)
}

func TestProposeSessionName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	f.testCase(t, f.suite(t, p.ID, "S").ID, "C1")

	want := []string{"Session (2026/03/14)", "Session (2026/03/14) (1)", "Session (2026/03/14) (2)"}
	for _, name := range want {
		got, err := f.engine.ProposeSessionName(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, name, got)

		// An empty name picks the same proposal.
		req := request("alice", models.ScopeSelector{})
		req.Name = ""
		session, err := f.engine.CreateSession(ctx, p.ID, req)
		require.NoError(t, err)
		assert.Equal(t, name, session.Name)
	}
}

func TestSummaryPassRateFloors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	c1 := f.testCase(t, s.ID, "C1")
	c2 := f.testCase(t, s.ID, "C2")
	f.testCase(t, s.ID, "C3")
	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)

	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusPass})
	require.NoError(t, err)
	_, err = f.engine.Record(ctx, session.ID, c2.ID, models.ExecutionResult{Status: models.StatusBlocked})
	require.NoError(t, err)

	summary, err := f.engine.Summary(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, summary.PassRate)
	assert.Equal(t, 1, summary.PassCount)
	assert.Equal(t, 1, summary.BlockedCount)
	assert.Equal(t, 1, summary.PendingCount)

	progress, err := f.engine.GetProgress(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 66.666, progress.ProgressPercent, 0.01)
}

func TestSessionDetailOrdersByTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	b := f.suite(t, p.ID, "B suite")
	a := f.suite(t, p.ID, "A suite")
	f.testCase(t, b.ID, "zeta")
	f.testCase(t, a.ID, "alpha")
	f.testCase(t, b.ID, "mid")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)

	detail, err := f.engine.SessionDetail(ctx, session.ID)
	require.NoError(t, err)
	var titles []string
	for _, ce := range detail.Executions {
		titles = append(titles, ce.TestCase.Title)
		assert.Equal(t, ce.TestCase.ID, ce.Execution.TestCaseID)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, titles)

	var suites []string
	for _, s := range detail.Suites {
		suites = append(suites, s.Name)
	}
	assert.Equal(t, []string{"A suite", "B suite"}, suites)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error { return errors.New("broker down") }
func (failingPublisher) Close() error                                { return nil }

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, WithPublisher(failingPublisher{}))
	ctx := context.Background()
	p := f.project(t, "P")
	c1 := f.testCase(t, f.suite(t, p.ID, "S").ID, "C1")

	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	_, err = f.engine.Record(ctx, session.ID, c1.ID, models.ExecutionResult{Status: models.StatusPass})
	require.NoError(t, err)
	_, err = f.engine.SkipRemaining(ctx, session.ID)
	require.NoError(t, err)
}

// failingStore makes selected writes fail after the wrapped store has run
// the ones before them.
type failingStore struct {
	*sqlite.Store
	failCompleteSession bool
	// failEnsureAfter fails EnsureExecution once that many executions were created.
	failEnsureAfter int
	ensured         int
}

var errStoreDown = errors.New("store down")

func (s *failingStore) CompleteSession(ctx context.Context, id int64, at time.Time) error {
	if s.failCompleteSession {
		return errStoreDown
	}
	return s.Store.CompleteSession(ctx, id, at)
}

func (s *failingStore) EnsureExecution(ctx context.Context, execution *models.Execution) (bool, error) {
	if s.failEnsureAfter > 0 && s.ensured >= s.failEnsureAfter {
		return false, errStoreDown
	}
	s.ensured++
	return s.Store.EnsureExecution(ctx, execution)
}

func TestSkipRemainingIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	f.testCase(t, s.ID, "C1")
	f.testCase(t, s.ID, "C2")
	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)

	f.useStore(&failingStore{Store: f.store, failCompleteSession: true})
	_, err = f.engine.SkipRemaining(ctx, session.ID)
	require.ErrorIs(t, err, errStoreDown)

	executions := f.executions(t, session.ID)
	require.Len(t, executions, 2)
	for _, e := range executions {
		assert.Equal(t, models.StatusNotTested, e.Status)
	}
	assertCoupling(t, executions)
	assert.False(t, f.session(t, session.ID).Completed())
	assert.Equal(t, []string{events.TypeSessionCreated}, f.recorder.Types())
}

func TestCreateSessionIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	s := f.suite(t, p.ID, "S")
	f.testCase(t, s.ID, "C1")
	f.testCase(t, s.ID, "C2")

	f.useStore(&failingStore{Store: f.store, failEnsureAfter: 1})
	_, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.ErrorIs(t, err, errStoreDown)

	sessions, err := f.store.ListSessions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Empty(t, f.recorder.Types())

	// The next attempt starts from a clean slate.
	f.useStore(f.store)
	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)
	assert.Len(t, f.executions(t, session.ID), 2)
}

// txTrackingStore records whether execution reads happen inside a transaction.
type txTrackingStore struct {
	*sqlite.Store
	inTx      bool
	readsInTx []bool
}

func (s *txTrackingStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context) error {
		s.inTx = true
		defer func() { s.inTx = false }()
		return fn(ctx)
	})
}

func (s *txTrackingStore) ListExecutions(ctx context.Context, sessionID int64) ([]models.Execution, error) {
	s.readsInTx = append(s.readsInTx, s.inTx)
	return s.Store.ListExecutions(ctx, sessionID)
}

func TestReadsUseOneSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "P")
	f.testCase(t, f.suite(t, p.ID, "S").ID, "C1")
	session, err := f.engine.CreateSession(ctx, p.ID, request("alice", models.ScopeSelector{}))
	require.NoError(t, err)

	tracking := &txTrackingStore{Store: f.store}
	f.useStore(tracking)

	_, err = f.engine.Summary(ctx, session.ID)
	require.NoError(t, err)
	_, err = f.engine.GetProgress(ctx, session.ID)
	require.NoError(t, err)
	_, err = f.engine.SessionDetail(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, tracking.readsInTx)
}
