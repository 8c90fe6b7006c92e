package storage

import (
	"context"
	"io"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
)

// Lookups return (nil, nil) when the requested row does not exist.

// CatalogStore holds the Project -> TestSuite -> TestCase -> TestStep hierarchy.
type CatalogStore interface {
	// UpsertProject inserts a project or updates the description of the one with the same name.
	UpsertProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)

	// UpsertSuite inserts a suite or updates the one with the same (project, name).
	UpsertSuite(ctx context.Context, suite *models.TestSuite) error
	GetSuite(ctx context.Context, id int64) (*models.TestSuite, error)
	GetSuiteByName(ctx context.Context, projectID int64, name string) (*models.TestSuite, error)
	ListSuites(ctx context.Context, projectID int64) ([]models.TestSuite, error)
	// ListSuitesForCases returns the distinct suites the given cases belong to, ordered by name.
	ListSuitesForCases(ctx context.Context, caseIDs []int64) ([]models.TestSuite, error)

	// UpsertCase inserts a case or updates the one with the same (suite, title).
	UpsertCase(ctx context.Context, tc *models.TestCase) error
	// GetCase returns the case with its steps in step order.
	GetCase(ctx context.Context, id int64) (*models.TestCase, error)
	// FindCasesByTitle returns every case titled title in the project. Titles are
	// only unique within a suite, so more than one may match.
	FindCasesByTitle(ctx context.Context, projectID int64, title string) ([]models.TestCase, error)

	// UpsertStep inserts a step or updates the one with the same (case, order).
	UpsertStep(ctx context.Context, step *models.TestStep) error
	ListSteps(ctx context.Context, caseID int64) ([]models.TestStep, error)

	// Scope resolution queries. Cases come back in insertion order without steps.
	CasesForSuite(ctx context.Context, suiteID int64) ([]models.TestCase, error)
	CasesForProject(ctx context.Context, projectID int64) ([]models.TestCase, error)
	CaseExists(ctx context.Context, caseID, projectID int64) (bool, error)
	SuiteExists(ctx context.Context, suiteID, projectID int64) (bool, error)
}

// SessionStore holds test sessions and their executions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.TestSession) error
	GetSession(ctx context.Context, id int64) (*models.TestSession, error)
	ListSessions(ctx context.Context, projectID int64) ([]models.TestSession, error)
	SessionNameExists(ctx context.Context, projectID int64, name string) (bool, error)
	// CompleteSession stamps completed_at, overwriting any previous value.
	CompleteSession(ctx context.Context, id int64, at time.Time) error

	// EnsureExecution inserts the execution unless one already exists for (session, case).
	// The stored row is written back into execution either way.
	EnsureExecution(ctx context.Context, execution *models.Execution) (created bool, err error)
	// ListExecutions returns the executions of a session in creation order.
	ListExecutions(ctx context.Context, sessionID int64) ([]models.Execution, error)
	GetExecution(ctx context.Context, sessionID, caseID int64) (*models.Execution, error)
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	// SkipPendingExecutions moves every NOT_TESTED execution of the session to SKIPPED.
	SkipPendingExecutions(ctx context.Context, sessionID int64, executedBy string, at time.Time, notes string) (int64, error)
}

// Store is the relational backend used by the engine and the API.
type Store interface {
	CatalogStore
	SessionStore

	// InTx runs fn inside one transaction. Store calls made with the ctx passed to fn
	// join that transaction. fn returning an error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Migrate creates the schema if it does not exist yet.
	Migrate(ctx context.Context) error

	// Close releases any resources held by the store (e.g., DB connections).
	Close() error
}

// ArtifactStore handles binary artifacts such as session reports and catalog exports.
type ArtifactStore interface {
	// StoreArtifact uploads the object and returns a URL it can be fetched from.
	StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
}
