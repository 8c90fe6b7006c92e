package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
)

const (
	projectColumns = `id, name, description, created_at, updated_at`
	suiteColumns   = `id, project_id, name, description, created_at, updated_at`
	caseColumns    = `c.id, c.suite_id, c.title, c.description, c.prerequisites, c.status, c.priority, c.created_at, c.updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSuite(row rowScanner) (*models.TestSuite, error) {
	var s models.TestSuite
	if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanCase(row rowScanner) (*models.TestCase, error) {
	var c models.TestCase
	if err := row.Scan(&c.ID, &c.SuiteID, &c.Title, &c.Description, &c.Prerequisites,
		&c.Status, &c.Priority, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertProject inserts or updates a project keyed by name.
func (s *Store) UpsertProject(ctx context.Context, project *models.Project) error {
	now := time.Now().UTC()
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO projects (name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			updated_at = excluded.updated_at
		RETURNING id`,
		project.Name, project.Description, now, now,
	).Scan(&project.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert project %q: %w", project.Name, err)
	}
	stored, err := s.GetProject(ctx, project.ID)
	if err != nil || stored == nil {
		return fmt.Errorf("failed to reload project %d: %w", project.ID, err)
	}
	*project = *stored
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, err := scanProject(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project %d: %w", id, err)
	}
	return p, nil
}

// GetProjectByName retrieves a project by its unique name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project %q: %w", name, err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpsertSuite inserts or updates a suite keyed by (project, name).
func (s *Store) UpsertSuite(ctx context.Context, suite *models.TestSuite) error {
	now := time.Now().UTC()
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO test_suites (project_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_id, name) DO UPDATE SET
			description = excluded.description,
			updated_at = excluded.updated_at
		RETURNING id`,
		suite.ProjectID, suite.Name, suite.Description, now, now,
	).Scan(&suite.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert suite %q: %w", suite.Name, err)
	}
	stored, err := s.GetSuite(ctx, suite.ID)
	if err != nil || stored == nil {
		return fmt.Errorf("failed to reload suite %d: %w", suite.ID, err)
	}
	*suite = *stored
	return nil
}

// GetSuite retrieves a suite by id.
func (s *Store) GetSuite(ctx context.Context, id int64) (*models.TestSuite, error) {
	suite, err := scanSuite(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+suiteColumns+` FROM test_suites WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query suite %d: %w", id, err)
	}
	return suite, nil
}

// GetSuiteByName retrieves a suite by name within a project.
func (s *Store) GetSuiteByName(ctx context.Context, projectID int64, name string) (*models.TestSuite, error) {
	suite, err := scanSuite(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+suiteColumns+` FROM test_suites WHERE project_id = ? AND name = ?`, projectID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query suite %q: %w", name, err)
	}
	return suite, nil
}

// ListSuites returns the suites of a project in insertion order.
func (s *Store) ListSuites(ctx context.Context, projectID int64) ([]models.TestSuite, error) {
	return s.querySuites(ctx, `SELECT `+suiteColumns+` FROM test_suites WHERE project_id = ? ORDER BY id`, projectID)
}

// ListSuitesForCases returns the distinct suites owning the given cases, ordered by name.
func (s *Store) ListSuitesForCases(ctx context.Context, caseIDs []int64) ([]models.TestSuite, error) {
	if len(caseIDs) == 0 {
		return []models.TestSuite{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(caseIDs)), ",")
	args := make([]any, len(caseIDs))
	for i, id := range caseIDs {
		args[i] = id
	}
	query := `SELECT ` + suiteColumns + ` FROM test_suites WHERE id IN (
		SELECT DISTINCT suite_id FROM test_cases WHERE id IN (` + placeholders + `)
	) ORDER BY name`
	return s.querySuites(ctx, query, args...)
}

func (s *Store) querySuites(ctx context.Context, query string, args ...any) ([]models.TestSuite, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query suites: %w", err)
	}
	defer rows.Close()

	suites := []models.TestSuite{}
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suite row: %w", err)
		}
		suites = append(suites, *suite)
	}
	return suites, rows.Err()
}

// UpsertCase inserts or updates a case keyed by (suite, title). Steps are not touched.
func (s *Store) UpsertCase(ctx context.Context, tc *models.TestCase) error {
	now := time.Now().UTC()
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO test_cases (suite_id, title, description, prerequisites, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (suite_id, title) DO UPDATE SET
			description = excluded.description,
			prerequisites = excluded.prerequisites,
			status = excluded.status,
			priority = excluded.priority,
			updated_at = excluded.updated_at
		RETURNING id`,
		tc.SuiteID, tc.Title, tc.Description, tc.Prerequisites, tc.Status, tc.Priority, now, now,
	).Scan(&tc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert test case %q: %w", tc.Title, err)
	}
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM test_cases c WHERE c.id = ?`, tc.ID)
	stored, err := scanCase(row)
	if err != nil {
		return fmt.Errorf("failed to reload test case %d: %w", tc.ID, err)
	}
	stored.Steps = tc.Steps
	*tc = *stored
	return nil
}

// GetCase retrieves a case with its ordered steps.
func (s *Store) GetCase(ctx context.Context, id int64) (*models.TestCase, error) {
	tc, err := scanCase(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM test_cases c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query test case %d: %w", id, err)
	}
	if tc.Steps, err = s.ListSteps(ctx, id); err != nil {
		return nil, err
	}
	return tc, nil
}

// FindCasesByTitle returns every case of the project with the given title, in insertion order.
func (s *Store) FindCasesByTitle(ctx context.Context, projectID int64, title string) ([]models.TestCase, error) {
	return s.queryCases(ctx, `
		SELECT `+caseColumns+`
		FROM test_cases c JOIN test_suites s ON s.id = c.suite_id
		WHERE s.project_id = ? AND c.title = ?
		ORDER BY c.id`, projectID, title)
}

// UpsertStep inserts or updates a step keyed by (case, order).
func (s *Store) UpsertStep(ctx context.Context, step *models.TestStep) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO test_steps (test_case_id, step_order, description, expected_result)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (test_case_id, step_order) DO UPDATE SET
			description = excluded.description,
			expected_result = excluded.expected_result
		RETURNING id`,
		step.TestCaseID, step.Order, step.Description, step.ExpectedResult,
	).Scan(&step.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert step %d of case %d: %w", step.Order, step.TestCaseID, err)
	}
	return nil
}

// ListSteps returns the steps of a case in step order.
func (s *Store) ListSteps(ctx context.Context, caseID int64) ([]models.TestStep, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, test_case_id, step_order, description, expected_result
		FROM test_steps WHERE test_case_id = ? ORDER BY step_order`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of case %d: %w", caseID, err)
	}
	defer rows.Close()

	steps := []models.TestStep{}
	for rows.Next() {
		var st models.TestStep
		if err := rows.Scan(&st.ID, &st.TestCaseID, &st.Order, &st.Description, &st.ExpectedResult); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// CasesForSuite returns the cases of a suite in insertion order.
func (s *Store) CasesForSuite(ctx context.Context, suiteID int64) ([]models.TestCase, error) {
	return s.queryCases(ctx, `SELECT `+caseColumns+` FROM test_cases c WHERE c.suite_id = ? ORDER BY c.id`, suiteID)
}

// CasesForProject returns every case of a project in insertion order.
func (s *Store) CasesForProject(ctx context.Context, projectID int64) ([]models.TestCase, error) {
	return s.queryCases(ctx, `
		SELECT `+caseColumns+`
		FROM test_cases c JOIN test_suites s ON s.id = c.suite_id
		WHERE s.project_id = ? ORDER BY c.id`, projectID)
}

func (s *Store) queryCases(ctx context.Context, query string, args ...any) ([]models.TestCase, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query test cases: %w", err)
	}
	defer rows.Close()

	cases := []models.TestCase{}
	for rows.Next() {
		tc, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test case row: %w", err)
		}
		cases = append(cases, *tc)
	}
	return cases, rows.Err()
}

// CaseExists checks whether the case belongs to the project.
func (s *Store) CaseExists(ctx context.Context, caseID, projectID int64) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM test_cases c JOIN test_suites s ON s.id = c.suite_id
			WHERE c.id = ? AND s.project_id = ?
		)`, caseID, projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check test case %d: %w", caseID, err)
	}
	return exists, nil
}

// SuiteExists checks whether the suite belongs to the project.
func (s *Store) SuiteExists(ctx context.Context, suiteID, projectID int64) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM test_suites WHERE id = ? AND project_id = ?)`,
		suiteID, projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check suite %d: %w", suiteID, err)
	}
	return exists, nil
}
