package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind classifies a ValidationError.
type ErrorKind string

const (
	InvalidScope    ErrorKind = "InvalidScope"
	EmptyScope      ErrorKind = "EmptyScope"
	InvalidStatus   ErrorKind = "InvalidStatus"
	MissingExecutor ErrorKind = "MissingExecutor"
	InvalidInput    ErrorKind = "InvalidInput"
)

// NotFoundError reports a session, test case, project or execution that does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ValidationError reports caller input that violates a precondition.
// IDs lists the offending identifiers for scope errors.
type ValidationError struct {
	Kind    ErrorKind
	Message string
	IDs     []int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ConflictError reports a conditional write whose expected status no longer holds.
type ConflictError struct {
	SessionID  int64
	TestCaseID int64
	Expected   string
	Actual     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("execution of test case %d in session %d is %s, expected %s",
		e.TestCaseID, e.SessionID, e.Actual, e.Expected)
}

func notFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func invalid(kind ErrorKind, format string, args ...any) error {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
