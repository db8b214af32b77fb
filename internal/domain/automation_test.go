package domain

import (
	"strings"
	"testing"
)

func validAutomation() *Automation {
	return &Automation{
		ID:             "a1",
		Name:           "nightly cleanup",
		Prompt:         "Remove dead code and run the tests.",
		ProjectIDs:     []string{"myapp"},
		Trigger:        Trigger{Type: TriggerSchedule, Cron: "0 3 * * *"},
		Enabled:        true,
		TimeoutMinutes: 30,
	}
}

func TestAutomation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *Automation)
		wantErr bool
	}{
		{"valid", func(a *Automation) {}, false},
		{"empty name", func(a *Automation) { a.Name = "" }, true},
		{"name too long", func(a *Automation) { a.Name = strings.Repeat("x", MaxNameLength+1) }, true},
		{"empty prompt", func(a *Automation) { a.Prompt = "" }, true},
		{"prompt too long", func(a *Automation) { a.Prompt = strings.Repeat("x", MaxPromptLength+1) }, true},
		{"no projects", func(a *Automation) { a.ProjectIDs = nil }, true},
		{"timeout too small", func(a *Automation) { a.TimeoutMinutes = 0 }, true},
		{"timeout too large", func(a *Automation) { a.TimeoutMinutes = MaxTimeoutMin + 1 }, true},
		{"invalid trigger", func(a *Automation) { a.Trigger = Trigger{Type: "bogus"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAutomation()
			tt.mutate(a)
			err := a.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrigger_Validate(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		wantErr bool
	}{
		{"schedule", Trigger{Type: TriggerSchedule, Cron: "*/5 * * * *"}, false},
		{"schedule missing cron", Trigger{Type: TriggerSchedule}, true},
		{"claude-done no filter", Trigger{Type: TriggerClaudeDone}, false},
		{"claude-done with filter", Trigger{Type: TriggerClaudeDone, Filter: "myapp"}, false},
		{"git-event merged", Trigger{Type: TriggerGitEvent, Kind: GitEventMerged}, false},
		{"git-event unknown kind", Trigger{Type: TriggerGitEvent, Kind: "closed"}, true},
		{"file-change", Trigger{Type: TriggerFileChange, Patterns: []string{"*.go"}, CooldownSeconds: 60}, false},
		{"file-change no patterns", Trigger{Type: TriggerFileChange, CooldownSeconds: 60}, true},
		{"file-change negative cooldown", Trigger{Type: TriggerFileChange, Patterns: []string{"*.go"}, CooldownSeconds: -1}, true},
		{"unknown type", Trigger{Type: "webhook"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAutomationUpdate_Apply(t *testing.T) {
	a := validAutomation()
	created := a.CreatedAt

	name := "renamed"
	enabled := false
	u := AutomationUpdate{Name: &name, Enabled: &enabled}
	u.Apply(a)

	if a.Name != "renamed" {
		t.Errorf("Name = %q, want renamed", a.Name)
	}
	if a.Enabled {
		t.Error("Enabled = true, want false")
	}
	// Untouched fields survive
	if a.Prompt != "Remove dead code and run the tests." {
		t.Errorf("Prompt changed unexpectedly: %q", a.Prompt)
	}
	if a.CreatedAt != created {
		t.Error("CreatedAt must not change on update")
	}
	if a.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not bumped")
	}
}

func TestRunStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunRunning, RunCompleted, true},
		{RunRunning, RunFailed, true},
		{RunCompleted, RunRunning, false},
		{RunFailed, RunCompleted, false},
		{RunCompleted, RunFailed, false},
		{RunRunning, RunRunning, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
