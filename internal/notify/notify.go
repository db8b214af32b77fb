package notify

import (
	"fmt"

	"github.com/hochfrequenz/claude-automations/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title      string
	Message    string
	Type       NotificationType
	Automation string // Optional automation name
	RunID      string // Optional run reference
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForRun builds the notification for a finished run
func ForRun(automationName string, run *domain.Run) Notification {
	n := Notification{
		Automation: automationName,
		RunID:      run.ID,
	}
	switch run.Status {
	case domain.RunCompleted:
		n.Type = NotifySuccess
		n.Title = fmt.Sprintf("%s completed", automationName)
		n.Message = run.Summary
		if n.Message == "" {
			n.Message = run.Result
		}
	default:
		n.Type = NotifyError
		n.Title = fmt.Sprintf("%s failed", automationName)
		n.Message = run.Error
	}
	if len(n.Message) > 300 {
		n.Message = n.Message[:300] + "..."
	}
	return n
}
