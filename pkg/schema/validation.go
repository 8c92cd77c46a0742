package schema

import (
	"fmt"
	"strings"
)

// Graph check identifiers reported by Flow.Validate.
const (
	CheckMissingStart = "MISSING_START"
	CheckDanglingEdge = "DANGLING_EDGE"
	CheckUnreachable  = "UNREACHABLE"
)

// GraphIssue is one problem found in a flow graph. Action is set only for
// edge problems.
type GraphIssue struct {
	Check   string `json:"check"`
	Node    string `json:"node"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

func (i GraphIssue) String() string {
	if i.Action != "" {
		return fmt.Sprintf("%s %s[%s]: %s", i.Check, i.Node, i.Action, i.Message)
	}
	return fmt.Sprintf("%s %s: %s", i.Check, i.Node, i.Message)
}

// ValidationResult holds the outcome of a graph check. Errors make a flow
// unsafe to run; warnings such as unreachable nodes do not.
type ValidationResult struct {
	Errors   []GraphIssue `json:"errors,omitempty"`
	Warnings []GraphIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(issue GraphIssue) {
	r.Errors = append(r.Errors, issue)
}

func (r *ValidationResult) AddWarning(issue GraphIssue) {
	r.Warnings = append(r.Warnings, issue)
}

// ToError returns nil for a valid graph, otherwise a VALIDATION_ERROR
// listing every error. Warnings ride along in the details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = issue.String()
	}
	return NewErrorf(ErrCodeValidation, "invalid flow graph: %s", strings.Join(msgs, "; ")).
		WithDetails(map[string]any{
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}
