package persistent

import (
	"context"
	"errors"
	"fmt"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"

	"github.com/jackc/pgx/v5"
)

const (
	upsertProjectSQL = `
		INSERT INTO projects (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING id, name, description, created_at, updated_at;
	`
	getProjectSQL       = `SELECT id, name, description, created_at, updated_at FROM projects WHERE id = $1;`
	getProjectByNameSQL = `SELECT id, name, description, created_at, updated_at FROM projects WHERE name = $1;`
	listProjectsSQL     = `SELECT id, name, description, created_at, updated_at FROM projects ORDER BY name;`

	upsertSuiteSQL = `
		INSERT INTO test_suites (project_id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, name) DO UPDATE SET
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING id, project_id, name, description, created_at, updated_at;
	`
	getSuiteSQL        = `SELECT id, project_id, name, description, created_at, updated_at FROM test_suites WHERE id = $1;`
	getSuiteByNameSQL  = `SELECT id, project_id, name, description, created_at, updated_at FROM test_suites WHERE project_id = $1 AND name = $2;`
	listSuitesSQL      = `SELECT id, project_id, name, description, created_at, updated_at FROM test_suites WHERE project_id = $1 ORDER BY id;`
	listSuitesForCases = `
		SELECT id, project_id, name, description, created_at, updated_at
		FROM test_suites
		WHERE id IN (SELECT DISTINCT suite_id FROM test_cases WHERE id = ANY($1))
		ORDER BY name;
	`

	caseColumns   = `c.id, c.suite_id, c.title, c.description, c.prerequisites, c.status, c.priority, c.created_at, c.updated_at`
	upsertCaseSQL = `
		INSERT INTO test_cases AS c (suite_id, title, description, prerequisites, status, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (suite_id, title) DO UPDATE SET
			description = EXCLUDED.description,
			prerequisites = EXCLUDED.prerequisites,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			updated_at = NOW()
		RETURNING ` + caseColumns + `;
	`
	getCaseSQL         = `SELECT ` + caseColumns + ` FROM test_cases c WHERE c.id = $1;`
	findCasesByTitleSQL = `
		SELECT ` + caseColumns + `
		FROM test_cases c JOIN test_suites s ON s.id = c.suite_id
		WHERE s.project_id = $1 AND c.title = $2
		ORDER BY c.id;
	`
	casesForSuiteSQL   = `SELECT ` + caseColumns + ` FROM test_cases c WHERE c.suite_id = $1 ORDER BY c.id;`
	casesForProjectSQL = `
		SELECT ` + caseColumns + `
		FROM test_cases c JOIN test_suites s ON s.id = c.suite_id
		WHERE s.project_id = $1 ORDER BY c.id;
	`
	caseExistsSQL = `
		SELECT EXISTS (
			SELECT 1 FROM test_cases c JOIN test_suites s ON s.id = c.suite_id
			WHERE c.id = $1 AND s.project_id = $2
		);
	`
	suiteExistsSQL = `SELECT EXISTS (SELECT 1 FROM test_suites WHERE id = $1 AND project_id = $2);`

	upsertStepSQL = `
		INSERT INTO test_steps (test_case_id, step_order, description, expected_result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (test_case_id, step_order) DO UPDATE SET
			description = EXCLUDED.description,
			expected_result = EXCLUDED.expected_result
		RETURNING id;
	`
	listStepsSQL = `
		SELECT id, test_case_id, step_order, description, expected_result
		FROM test_steps WHERE test_case_id = $1 ORDER BY step_order;
	`
)

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSuite(row pgx.Row) (*models.TestSuite, error) {
	var s models.TestSuite
	if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanCase(row pgx.Row) (*models.TestCase, error) {
	var c models.TestCase
	if err := row.Scan(&c.ID, &c.SuiteID, &c.Title, &c.Description, &c.Prerequisites,
		&c.Status, &c.Priority, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertProject inserts or updates a project keyed by name.
func (s *Store) UpsertProject(ctx context.Context, project *models.Project) error {
	stored, err := scanProject(s.conn(ctx).QueryRow(ctx, upsertProjectSQL, project.Name, project.Description))
	if err != nil {
		return fmt.Errorf("failed to upsert project %q: %w", project.Name, err)
	}
	*project = *stored
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, err := scanProject(s.conn(ctx).QueryRow(ctx, getProjectSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project %d: %w", id, err)
	}
	return p, nil
}

// GetProjectByName retrieves a project by name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(s.conn(ctx).QueryRow(ctx, getProjectByNameSQL, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project %q: %w", name, err)
	}
	return p, nil
}

// ListProjects returns every project ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.conn(ctx).Query(ctx, listProjectsSQL)
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
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return projects, nil
}

// UpsertSuite inserts or updates a suite keyed by (project, name).
func (s *Store) UpsertSuite(ctx context.Context, suite *models.TestSuite) error {
	stored, err := scanSuite(s.conn(ctx).QueryRow(ctx, upsertSuiteSQL, suite.ProjectID, suite.Name, suite.Description))
	if err != nil {
		return fmt.Errorf("failed to upsert suite %q: %w", suite.Name, err)
	}
	*suite = *stored
	return nil
}

// GetSuite retrieves a suite by id.
func (s *Store) GetSuite(ctx context.Context, id int64) (*models.TestSuite, error) {
	suite, err := scanSuite(s.conn(ctx).QueryRow(ctx, getSuiteSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query suite %d: %w", id, err)
	}
	return suite, nil
}

// GetSuiteByName retrieves a suite by name within a project.
func (s *Store) GetSuiteByName(ctx context.Context, projectID int64, name string) (*models.TestSuite, error) {
	suite, err := scanSuite(s.conn(ctx).QueryRow(ctx, getSuiteByNameSQL, projectID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query suite %q: %w", name, err)
	}
	return suite, nil
}

// ListSuites returns the suites of a project.
func (s *Store) ListSuites(ctx context.Context, projectID int64) ([]models.TestSuite, error) {
	return s.querySuites(ctx, listSuitesSQL, projectID)
}

// ListSuitesForCases returns the distinct suites owning the given cases.
func (s *Store) ListSuitesForCases(ctx context.Context, caseIDs []int64) ([]models.TestSuite, error) {
	if len(caseIDs) == 0 {
		return []models.TestSuite{}, nil
	}
	return s.querySuites(ctx, listSuitesForCases, caseIDs)
}

func (s *Store) querySuites(ctx context.Context, query string, args ...any) ([]models.TestSuite, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
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
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suite rows: %w", err)
	}
	return suites, nil
}

// UpsertCase inserts or updates a case keyed by (suite, title).
func (s *Store) UpsertCase(ctx context.Context, tc *models.TestCase) error {
	stored, err := scanCase(s.conn(ctx).QueryRow(ctx, upsertCaseSQL,
		tc.SuiteID, tc.Title, tc.Description, tc.Prerequisites, tc.Status, tc.Priority))
	if err != nil {
		return fmt.Errorf("failed to upsert test case %q: %w", tc.Title, err)
	}
	stored.Steps = tc.Steps
	*tc = *stored
	return nil
}

// GetCase retrieves a case with its ordered steps.
func (s *Store) GetCase(ctx context.Context, id int64) (*models.TestCase, error) {
	tc, err := scanCase(s.conn(ctx).QueryRow(ctx, getCaseSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
	return s.queryCases(ctx, findCasesByTitleSQL, projectID, title)
}

// UpsertStep inserts or updates a step keyed by (case, order).
func (s *Store) UpsertStep(ctx context.Context, step *models.TestStep) error {
	err := s.conn(ctx).QueryRow(ctx, upsertStepSQL,
		step.TestCaseID, step.Order, step.Description, step.ExpectedResult).Scan(&step.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert step %d of case %d: %w", step.Order, step.TestCaseID, err)
	}
	return nil
}

// ListSteps returns the steps of a case in step order.
func (s *Store) ListSteps(ctx context.Context, caseID int64) ([]models.TestStep, error) {
	rows, err := s.conn(ctx).Query(ctx, listStepsSQL, caseID)
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
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step rows: %w", err)
	}
	return steps, nil
}

// CasesForSuite returns the cases of a suite in insertion order.
func (s *Store) CasesForSuite(ctx context.Context, suiteID int64) ([]models.TestCase, error) {
	return s.queryCases(ctx, casesForSuiteSQL, suiteID)
}

// CasesForProject returns every case of a project in insertion order.
func (s *Store) CasesForProject(ctx context.Context, projectID int64) ([]models.TestCase, error) {
	return s.queryCases(ctx, casesForProjectSQL, projectID)
}

func (s *Store) queryCases(ctx context.Context, query string, args ...any) ([]models.TestCase, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
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
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test case rows: %w", err)
	}
	return cases, nil
}

// CaseExists checks whether the case belongs to the project.
func (s *Store) CaseExists(ctx context.Context, caseID, projectID int64) (bool, error) {
	var exists bool
	if err := s.conn(ctx).QueryRow(ctx, caseExistsSQL, caseID, projectID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check test case %d: %w", caseID, err)
	}
	return exists, nil
}

// SuiteExists checks whether the suite belongs to the project.
func (s *Store) SuiteExists(ctx context.Context, suiteID, projectID int64) (bool, error) {
	var exists bool
	if err := s.conn(ctx).QueryRow(ctx, suiteExistsSQL, suiteID, projectID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check suite %d: %w", suiteID, err)
	}
	return exists, nil
}
