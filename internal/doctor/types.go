package doctor

import (
	"context"
)

// Category groups related checks.
type Category string

const (
	CategoryServices    Category = "services"
	CategorySystem      Category = "system"
	CategoryConfig      Category = "config"
	CategoryPermissions Category = "permissions"
)

// Status is the result status of a check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name       string   `json:"name"`
	Category   Category `json:"category"`
	Status     Status   `json:"status"`
	Message    string   `json:"message"`
	Details    string   `json:"details,omitempty"`
	FixCommand string   `json:"fix_command,omitempty"`
}

// Checker is the interface every check implements.
type Checker interface {
	// Name returns the display name of the checker
	Name() string
	// Category returns the category this checker belongs to
	Category() Category
	// Check performs the check and returns the result
	Check(ctx context.Context) CheckResult
}

// Options configures a doctor run.
type Options struct {
	// JSON outputs results as JSON
	JSON bool
	// Category filters checks to a specific category
	Category Category
	// Verbose enables verbose output
	Verbose bool
}

// Report is the complete result of running all checks.
type Report struct {
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Summary is an overview of the check results.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Warned  int `json:"warned"`
	Skipped int `json:"skipped"`
}

// IsHealthy reports whether no check failed outright.
func (s Summary) IsHealthy() bool {
	return s.Failed == 0
}
