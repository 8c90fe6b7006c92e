// Package storagetest holds behaviour checks shared by every storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"
)

// Run exercises store. newStore must return an empty, migrated store per call.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("InTxRollsBack", func(t *testing.T) { testInTx(t, newStore(t)) })
	t.Run("LookupsReturnNil", func(t *testing.T) { testMissing(t, newStore(t)) })
}

func testCatalog(t *testing.T, store storage.Store) {
	ctx := context.Background()

	project := &models.Project{Name: "Shop", Description: "v1"}
	require.NoError(t, store.UpsertProject(ctx, project))
	again := &models.Project{Name: "Shop", Description: "v2"}
	require.NoError(t, store.UpsertProject(ctx, again))
	assert.Equal(t, project.ID, again.ID)

	byName, err := store.GetProjectByName(ctx, "Shop")
	require.NoError(t, err)
	assert.Equal(t, "v2", byName.Description)

	login := &models.TestSuite{ProjectID: project.ID, Name: "Login"}
	cart := &models.TestSuite{ProjectID: project.ID, Name: "Cart"}
	require.NoError(t, store.UpsertSuite(ctx, login))
	require.NoError(t, store.UpsertSuite(ctx, cart))

	valid := &models.TestCase{SuiteID: login.ID, Title: "Valid login", Status: models.CaseStatusActive, Priority: models.PriorityHigh}
	checkout := &models.TestCase{SuiteID: cart.ID, Title: "Checkout", Status: models.CaseStatusDraft, Priority: models.PriorityLow}
	require.NoError(t, store.UpsertCase(ctx, valid))
	require.NoError(t, store.UpsertCase(ctx, checkout))

	for _, order := range []int{3, 1} {
		require.NoError(t, store.UpsertStep(ctx, &models.TestStep{TestCaseID: valid.ID, Order: order, Description: "step"}))
	}
	require.NoError(t, store.UpsertStep(ctx, &models.TestStep{TestCaseID: valid.ID, Order: 3, Description: "last", ExpectedResult: "done"}))

	got, err := store.GetCase(ctx, valid.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, []int{1, 3}, []int{got.Steps[0].Order, got.Steps[1].Order})
	assert.Equal(t, "last", got.Steps[1].Description)
	assert.Equal(t, "done", got.Steps[1].ExpectedResult)

	found, err := store.FindCasesByTitle(ctx, project.ID, "Checkout")
	require.NoError(t, err)
	assert.Equal(t, []int64{checkout.ID}, caseIDs(found))

	found, err = store.FindCasesByTitle(ctx, project.ID, "Missing")
	require.NoError(t, err)
	assert.Empty(t, found)

	cases, err := store.CasesForProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{valid.ID, checkout.ID}, caseIDs(cases))

	suites, err := store.ListSuitesForCases(ctx, []int64{valid.ID, checkout.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cart", "Login"}, []string{suites[0].Name, suites[1].Name})

	other := &models.Project{Name: "Other"}
	require.NoError(t, store.UpsertProject(ctx, other))
	ok, err := store.CaseExists(ctx, valid.ID, project.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.CaseExists(ctx, valid.ID, other.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.SuiteExists(ctx, cart.ID, other.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Titles repeat across suites.
	twin := &models.TestCase{SuiteID: login.ID, Title: "Checkout", Status: models.CaseStatusActive, Priority: models.PriorityMedium}
	require.NoError(t, store.UpsertCase(ctx, twin))
	found, err = store.FindCasesByTitle(ctx, project.ID, "Checkout")
	require.NoError(t, err)
	assert.Equal(t, []int64{checkout.ID, twin.ID}, caseIDs(found))
}

func testSessions(t *testing.T, store storage.Store) {
	ctx := context.Background()
	project := &models.Project{Name: "Shop"}
	require.NoError(t, store.UpsertProject(ctx, project))
	suite := &models.TestSuite{ProjectID: project.ID, Name: "Login"}
	require.NoError(t, store.UpsertSuite(ctx, suite))
	var cases []*models.TestCase
	for _, title := range []string{"a", "b", "c"} {
		tc := &models.TestCase{SuiteID: suite.ID, Title: title, Status: models.CaseStatusDraft, Priority: models.PriorityMedium}
		require.NoError(t, store.UpsertCase(ctx, tc))
		cases = append(cases, tc)
	}

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	session := &models.TestSession{ProjectID: project.ID, Name: "Smoke", ExecutedBy: "alice", StartedAt: started}
	require.NoError(t, store.CreateSession(ctx, session))

	exists, err := store.SessionNameExists(ctx, project.ID, "Smoke")
	require.NoError(t, err)
	assert.True(t, exists)

	for _, tc := range cases {
		created, err := store.EnsureExecution(ctx, &models.Execution{SessionID: session.ID, TestCaseID: tc.ID, Status: models.StatusNotTested})
		require.NoError(t, err)
		assert.True(t, created)
	}
	dup := &models.Execution{SessionID: session.ID, TestCaseID: cases[0].ID, Status: models.StatusPass}
	created, err := store.EnsureExecution(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.StatusNotTested, dup.Status)

	executed := started.Add(time.Minute)
	dup.Status = models.StatusFail
	dup.ExecutedBy = "bob"
	dup.ExecutedAt = &executed
	dup.Notes = "broken"
	require.NoError(t, store.UpdateExecution(ctx, dup))

	skipped, err := store.SkipPendingExecutions(ctx, session.ID, "alice", executed, "bulk")
	require.NoError(t, err)
	assert.EqualValues(t, 2, skipped)

	executions, err := store.ListExecutions(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, executions, 3)
	got := make([]string, len(executions))
	for i, e := range executions {
		got[i] = e.Status
		require.NotNil(t, e.ExecutedAt)
	}
	if diff := cmp.Diff([]string{models.StatusFail, models.StatusSkipped, models.StatusSkipped}, got); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "bob", executions[0].ExecutedBy)
	assert.Equal(t, "bulk", executions[1].Notes)

	require.NoError(t, store.CompleteSession(ctx, session.ID, executed))
	reloaded, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.CompletedAt)
	assert.True(t, reloaded.CompletedAt.Equal(executed))

	list, err := store.ListSessions(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

var errBoom = errors.New("boom")

func testInTx(t *testing.T, store storage.Store) {
	ctx := context.Background()
	err := store.InTx(ctx, func(ctx context.Context) error {
		if err := store.UpsertProject(ctx, &models.Project{Name: "Doomed"}); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	p, err := store.GetProjectByName(ctx, "Doomed")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, store.InTx(ctx, func(ctx context.Context) error {
		return store.UpsertProject(ctx, &models.Project{Name: "Kept"})
	}))
	p, err = store.GetProjectByName(ctx, "Kept")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func testMissing(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p, err := store.GetProject(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, p)
	s, err := store.GetSuite(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, s)
	c, err := store.GetCase(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, c)
	ts, err := store.GetSession(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, ts)
	e, err := store.GetExecution(ctx, 999, 999)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func caseIDs(cases []models.TestCase) []int64 {
	ids := make([]int64, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	return ids
}
