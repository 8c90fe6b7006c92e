package models

import (
	"fmt"
	"strings"
)

// Normalize fills defaults on a test case before it is stored.
func (c *TestCase) Normalize() {
	c.Title = strings.TrimSpace(c.Title)
	if c.Status == "" {
		c.Status = CaseStatusDraft
	}
	if c.Priority == "" {
		c.Priority = PriorityMedium
	}
}

// Validate checks the enums and the step ordering of a test case.
func (c *TestCase) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("test case title is required")
	}
	if !IsCaseStatus(c.Status) {
		return fmt.Errorf("invalid test case status %q", c.Status)
	}
	if !IsPriority(c.Priority) {
		return fmt.Errorf("invalid test case priority %q", c.Priority)
	}
	return ValidateSteps(c.Steps)
}

// ValidateSteps enforces positive, pairwise distinct step orders. Gaps are allowed.
func ValidateSteps(steps []TestStep) error {
	seen := make(map[int]bool, len(steps))
	for _, st := range steps {
		if st.Order <= 0 {
			return fmt.Errorf("step order must be positive, got %d", st.Order)
		}
		if seen[st.Order] {
			return fmt.Errorf("duplicate step order %d", st.Order)
		}
		seen[st.Order] = true
	}
	return nil
}
