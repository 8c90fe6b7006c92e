package models

import "time"

// Project is the root of the catalog and of session scoping.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`                  // Unique across projects
	Description string    `json:"description,omitempty"` // Free text
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TestSuite groups test cases inside a project. Name is unique per project.
type TestSuite struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	TestCases   []TestCase `json:"test_cases,omitempty"` // Only filled when explicitly requested
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TestCase is a documented scenario. Title is unique per suite.
type TestCase struct {
	ID            int64      `json:"id"`
	SuiteID       int64      `json:"suite_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Prerequisites string     `json:"prerequisites,omitempty"`
	Status        string     `json:"status"`   // DRAFT, ACTIVE, DEPRECATED
	Priority      string     `json:"priority"` // HIGH, MEDIUM, LOW
	Steps         []TestStep `json:"steps,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TestStep is one ordered action within a test case.
type TestStep struct {
	ID             int64  `json:"id"`
	TestCaseID     int64  `json:"test_case_id"`
	Order          int    `json:"order"` // Positive, unique within the case
	Description    string `json:"description"`
	ExpectedResult string `json:"expected_result,omitempty"`
}

// TestSession is a bounded run over a fixed scope of test cases.
type TestSession struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ExecutedBy  string     `json:"executed_by"`
	Environment string     `json:"environment,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"` // nil while in progress
}

// Completed reports whether the session reached its terminal state.
func (s *TestSession) Completed() bool {
	return s.CompletedAt != nil
}

// Execution records the outcome of one test case within one session.
type Execution struct {
	ID           int64      `json:"id"`
	SessionID    int64      `json:"test_session_id"`
	TestCaseID   int64      `json:"test_case_id"`
	Status       string     `json:"status"`
	ExecutedBy   string     `json:"executed_by"`
	ExecutedAt   *time.Time `json:"executed_at"` // nil while NOT_TESTED
	ResultDetail string     `json:"result_detail"`
	Notes        string     `json:"notes"`
	Environment  string     `json:"environment"`
}

// Pending reports whether the execution still waits for a result.
func (e *Execution) Pending() bool {
	return e.Status == StatusNotTested
}

// Constants for Execution Status
const (
	StatusNotTested = "NOT_TESTED"
	StatusPass      = "PASS"
	StatusFail      = "FAIL"
	StatusBlocked   = "BLOCKED"
	StatusSkipped   = "SKIPPED"
)

// Constants for TestCase Status
const (
	CaseStatusDraft      = "DRAFT"
	CaseStatusActive     = "ACTIVE"
	CaseStatusDeprecated = "DEPRECATED"
)

// Constants for TestCase Priority
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// IsExecutionStatus checks if s is one of the five execution statuses.
func IsExecutionStatus(s string) bool {
	switch s {
	case StatusNotTested, StatusPass, StatusFail, StatusBlocked, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsCaseStatus checks if s is a valid test case status.
func IsCaseStatus(s string) bool {
	switch s {
	case CaseStatusDraft, CaseStatusActive, CaseStatusDeprecated:
		return true
	default:
		return false
	}
}

// IsPriority checks if s is a valid test case priority.
func IsPriority(s string) bool {
	switch s {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}
