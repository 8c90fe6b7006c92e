package models

import "time"

// ScopeSelector picks the test cases a new session covers.
// Both lists empty means every test case currently in the project.
type ScopeSelector struct {
	CaseIDs  []int64 `json:"case_ids,omitempty"`
	SuiteIDs []int64 `json:"suite_ids,omitempty"`
}

// IsDefault reports whether no explicit selection was made.
func (s ScopeSelector) IsDefault() bool {
	return len(s.CaseIDs) == 0 && len(s.SuiteIDs) == 0
}

// SessionRequest is the data received to create a new test session.
type SessionRequest struct {
	Name        string        `json:"name"` // Empty uses the proposed default name
	Description string        `json:"description,omitempty"`
	ExecutedBy  string        `json:"executed_by"` // Required
	Environment string        `json:"environment,omitempty"`
	Scope       ScopeSelector `json:"scope"`
	// Strict rejects a scope that resolves to zero test cases. Nil uses the server default.
	Strict *bool `json:"strict,omitempty"`
}

// ExecutionResult is the data submitted when a test case has been worked through.
type ExecutionResult struct {
	Status       string `json:"status"`                  // One of the execution statuses (Required)
	ExecutedBy   string `json:"executed_by,omitempty"`   // Defaults to the session's executed_by
	Environment  string `json:"environment,omitempty"`   // Defaults to the session's environment
	ResultDetail string `json:"result_detail,omitempty"` // Observed result
	Notes        string `json:"notes,omitempty"`
	// IfStatus, when set, makes the write conditional on the current status.
	IfStatus string `json:"if_status,omitempty"`
}

// Progress is the aggregated execution state of a session.
type Progress struct {
	SessionID       int64      `json:"test_session_id"`
	SessionName     string     `json:"test_session_name"`
	Completed       bool       `json:"completed"`
	TotalCount      int        `json:"total_count"`
	CompletedCount  int        `json:"completed_count"`
	ProgressPercent float64    `json:"progress"`
	RemainingCases  []TestCase `json:"remaining_test_cases"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Summary holds per-status counts for a session.
type Summary struct {
	SessionID    int64 `json:"test_session_id"`
	TotalCount   int   `json:"total_count"`
	PassCount    int   `json:"pass_count"`
	FailCount    int   `json:"fail_count"`
	BlockedCount int   `json:"blocked_count"`
	SkippedCount int   `json:"skipped_count"`
	PendingCount int   `json:"not_tested_count"`
	// PassRate is pass*100/total, floored. Zero for an empty session.
	PassRate int `json:"pass_rate"`
}

// NextExecution is the execution the client should work on next.
type NextExecution struct {
	Execution Execution `json:"execution"`
	TestCase  TestCase  `json:"test_case"`
	// Number is the 1-based position of the execution among all executions of the session.
	Number     int `json:"current_execution_number"`
	TotalCount int `json:"total_count"`
}

// CaseExecution pairs a test case with its execution inside a session.
type CaseExecution struct {
	TestCase  TestCase  `json:"test_case"`
	Execution Execution `json:"execution"`
}

// SessionDetail is a session with its executions and the suites they come from.
type SessionDetail struct {
	Session    TestSession     `json:"test_session"`
	Executions []CaseExecution `json:"executions"`
	Suites     []TestSuite     `json:"suites"`
}
