package domain

import "fmt"

// TriggerType identifies the trigger variant of an automation
type TriggerType string

const (
	TriggerSchedule   TriggerType = "schedule"
	TriggerClaudeDone TriggerType = "claude-done"
	TriggerGitEvent   TriggerType = "git-event"
	TriggerFileChange TriggerType = "file-change"
)

// GitEventKind is an edge transition of an upstream tracked resource
type GitEventKind string

const (
	GitEventMerged       GitEventKind = "merged"
	GitEventOpened       GitEventKind = "opened"
	GitEventChecksPassed GitEventKind = "checks-passed"
	GitEventConflict     GitEventKind = "conflict"
)

// MaxCooldownSeconds caps the file-change debounce window at one day
const MaxCooldownSeconds = 86400

// Trigger is a tagged union: Type selects the variant, and only the
// fields belonging to that variant are meaningful.
type Trigger struct {
	Type TriggerType `json:"type"`

	// schedule
	Cron string `json:"cron,omitempty"`

	// claude-done: optional scope filter, empty matches everything
	Filter string `json:"filter,omitempty"`

	// git-event
	Kind GitEventKind `json:"kind,omitempty"`

	// file-change
	Patterns        []string `json:"patterns,omitempty"`
	CooldownSeconds int      `json:"cooldownSeconds,omitempty"`
}

// Validate checks the trigger variant and its fields.
// Cron expressions are syntax-checked at the service boundary where the
// cron parser is available.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerSchedule:
		if t.Cron == "" {
			return fmt.Errorf("schedule trigger requires a cron expression")
		}
	case TriggerClaudeDone:
		// Filter is optional
	case TriggerGitEvent:
		switch t.Kind {
		case GitEventMerged, GitEventOpened, GitEventChecksPassed, GitEventConflict:
		default:
			return fmt.Errorf("invalid git event kind: %q", t.Kind)
		}
	case TriggerFileChange:
		if len(t.Patterns) == 0 {
			return fmt.Errorf("file-change trigger requires at least one pattern")
		}
		if t.CooldownSeconds < 0 || t.CooldownSeconds > MaxCooldownSeconds {
			return fmt.Errorf("cooldown out of range: %d", t.CooldownSeconds)
		}
	default:
		return fmt.Errorf("invalid trigger type: %q", t.Type)
	}
	return nil
}
