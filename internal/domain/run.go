package domain

import "time"

// RunStatus is the lifecycle state of one execution
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is an end state
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransition reports whether a status change is allowed.
// Transitions are one-way: running -> completed|failed.
func (s RunStatus) CanTransition(to RunStatus) bool {
	if s == to {
		return true
	}
	return s == RunRunning && to.Terminal()
}

// Run is one execution instance of an automation against one project
type Run struct {
	ID           string     `json:"id"`
	AutomationID string     `json:"automationId"`
	ProjectID    string     `json:"projectId"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Result       string     `json:"result,omitempty"`
	SessionID    string     `json:"sessionId,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Read         bool       `json:"read"`
	WorktreePath string     `json:"worktreePath,omitempty"`
	ExitCode     int        `json:"exitCode"`
	Error        string     `json:"error,omitempty"`
}
