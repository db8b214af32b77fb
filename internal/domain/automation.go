package domain

import (
	"fmt"
	"time"
)

// Validation bounds for automation definitions
const (
	MaxNameLength   = 200
	MaxPromptLength = 10000
	MinTimeoutMin   = 1
	MaxTimeoutMin   = 1440
	DefaultTimeout  = 30
)

// Automation is a persisted, reusable (prompt, trigger, targets) definition
type Automation struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Prompt         string    `json:"prompt"`
	ProjectIDs     []string  `json:"projectIds"`
	Trigger        Trigger   `json:"trigger"`
	Enabled        bool      `json:"enabled"`
	BaseBranch     string    `json:"baseBranch,omitempty"`
	TimeoutMinutes int       `json:"timeoutMinutes"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks all invariants of the definition
func (a *Automation) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(a.Name) > MaxNameLength {
		return fmt.Errorf("name exceeds %d characters", MaxNameLength)
	}
	if a.Prompt == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	if len(a.Prompt) > MaxPromptLength {
		return fmt.Errorf("prompt exceeds %d characters", MaxPromptLength)
	}
	if len(a.ProjectIDs) == 0 {
		return fmt.Errorf("automation must target at least one project")
	}
	if a.TimeoutMinutes < MinTimeoutMin || a.TimeoutMinutes > MaxTimeoutMin {
		return fmt.Errorf("timeout out of range: %d minutes", a.TimeoutMinutes)
	}
	return a.Trigger.Validate()
}

// Timeout returns the run timeout as a duration
func (a *Automation) Timeout() time.Duration {
	return time.Duration(a.TimeoutMinutes) * time.Minute
}

// TargetsProject reports whether the automation targets the given project
func (a *Automation) TargetsProject(projectID string) bool {
	for _, id := range a.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}

// AutomationUpdate is a partial update. Only the allow-listed fields below
// can be changed after creation; nil pointers leave the field untouched.
type AutomationUpdate struct {
	Name           *string   `json:"name,omitempty"`
	Prompt         *string   `json:"prompt,omitempty"`
	ProjectIDs     *[]string `json:"projectIds,omitempty"`
	Trigger        *Trigger  `json:"trigger,omitempty"`
	Enabled        *bool     `json:"enabled,omitempty"`
	BaseBranch     *string   `json:"baseBranch,omitempty"`
	TimeoutMinutes *int      `json:"timeoutMinutes,omitempty"`
}

// Apply copies the set fields onto the automation and bumps UpdatedAt
func (u AutomationUpdate) Apply(a *Automation) {
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Prompt != nil {
		a.Prompt = *u.Prompt
	}
	if u.ProjectIDs != nil {
		a.ProjectIDs = *u.ProjectIDs
	}
	if u.Trigger != nil {
		a.Trigger = *u.Trigger
	}
	if u.Enabled != nil {
		a.Enabled = *u.Enabled
	}
	if u.BaseBranch != nil {
		a.BaseBranch = *u.BaseBranch
	}
	if u.TimeoutMinutes != nil {
		a.TimeoutMinutes = *u.TimeoutMinutes
	}
	a.UpdatedAt = time.Now()
}
