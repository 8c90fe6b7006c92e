package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
)

const defaultNameLayout = "2006/01/02"

// CreateSession resolves the scope, stores the session and materializes one
// NOT_TESTED execution per case, all in one transaction. An empty name is
// replaced by ProposeSessionName.
func (e *Engine) CreateSession(ctx context.Context, projectID int64, req models.SessionRequest) (*models.TestSession, error) {
	executedBy := strings.TrimSpace(req.ExecutedBy)
	if executedBy == "" {
		return nil, invalid(MissingExecutor, "executed_by is required")
	}
	strict := e.strictScope
	if req.Strict != nil {
		strict = *req.Strict
	}

	var session *models.TestSession
	var pending []events.Event
	err := e.store.InTx(ctx, func(ctx context.Context) error {
		project, err := e.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return notFound("project", projectID)
		}

		caseIDs, err := e.resolveScope(ctx, projectID, req.Scope)
		if err != nil {
			return err
		}
		if len(caseIDs) == 0 && strict {
			return invalid(EmptyScope, "scope of project %d contains no test cases", projectID)
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			if name, err = e.proposeName(ctx, projectID); err != nil {
				return err
			}
		}

		now := e.now()
		session = &models.TestSession{
			ProjectID:   projectID,
			Name:        name,
			Description: req.Description,
			ExecutedBy:  executedBy,
			Environment: req.Environment,
			StartedAt:   now,
		}
		if err := e.store.CreateSession(ctx, session); err != nil {
			return err
		}
		if _, err := e.initializeExecutions(ctx, session, caseIDs); err != nil {
			return err
		}
		pending = append(pending, events.New(events.TypeSessionCreated, projectID, session.ID, now))

		// Nothing to execute: the session is complete from the start.
		if len(caseIDs) == 0 {
			if err := e.store.CompleteSession(ctx, session.ID, now); err != nil {
				return err
			}
			session.CompletedAt = &now
			pending = append(pending, events.New(events.TypeSessionCompleted, projectID, session.ID, now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Test session created",
		slog.Int64("session_id", session.ID),
		slog.Int64("project_id", projectID),
		slog.Bool("completed", session.Completed()))
	e.publish(ctx, pending...)
	return session, nil
}

// resolveScope returns the case ids covered by the selector, without duplicates.
// Explicit cases keep their given order, suites contribute their cases suite by
// suite, and the default scope is every case of the project.
func (e *Engine) resolveScope(ctx context.Context, projectID int64, scope models.ScopeSelector) ([]int64, error) {
	if scope.IsDefault() {
		cases, err := e.store.CasesForProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(cases))
		for _, c := range cases {
			ids = append(ids, c.ID)
		}
		return ids, nil
	}

	var badCases, badSuites []int64
	for _, id := range scope.CaseIDs {
		ok, err := e.store.CaseExists(ctx, id, projectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			badCases = append(badCases, id)
		}
	}
	for _, id := range scope.SuiteIDs {
		ok, err := e.store.SuiteExists(ctx, id, projectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			badSuites = append(badSuites, id)
		}
	}
	if len(badCases) > 0 || len(badSuites) > 0 {
		var parts []string
		if len(badCases) > 0 {
			parts = append(parts, fmt.Sprintf("test cases [%s]", joinIDs(badCases)))
		}
		if len(badSuites) > 0 {
			parts = append(parts, fmt.Sprintf("test suites [%s]", joinIDs(badSuites)))
		}
		return nil, &ValidationError{
			Kind:    InvalidScope,
			Message: fmt.Sprintf("%s do not belong to project %d", strings.Join(parts, " and "), projectID),
			IDs:     append(badCases, badSuites...),
		}
	}

	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range scope.CaseIDs {
		add(id)
	}
	for _, suiteID := range scope.SuiteIDs {
		cases, err := e.store.CasesForSuite(ctx, suiteID)
		if err != nil {
			return nil, err
		}
		for _, c := range cases {
			add(c.ID)
		}
	}
	return ids, nil
}

// initializeExecutions get-or-creates one execution per case. Running it again
// for the same cases creates nothing.
func (e *Engine) initializeExecutions(ctx context.Context, session *models.TestSession, caseIDs []int64) (int, error) {
	created := 0
	for _, caseID := range caseIDs {
		execution := &models.Execution{
			SessionID:   session.ID,
			TestCaseID:  caseID,
			Status:      models.StatusNotTested,
			Environment: session.Environment,
		}
		ok, err := e.store.EnsureExecution(ctx, execution)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// ProposeSessionName returns "Session (YYYY/MM/DD)" for today, suffixed with
// " (1)", " (2)", ... until no session of the project uses it.
func (e *Engine) ProposeSessionName(ctx context.Context, projectID int64) (string, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", notFound("project", projectID)
	}
	return e.proposeName(ctx, projectID)
}

func (e *Engine) proposeName(ctx context.Context, projectID int64) (string, error) {
	base := fmt.Sprintf("Session (%s)", e.now().Format(defaultNameLayout))
	name := base
	for n := 1; ; n++ {
		taken, err := e.store.SessionNameExists(ctx, projectID, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name = fmt.Sprintf("%s (%d)", base, n)
	}
}
