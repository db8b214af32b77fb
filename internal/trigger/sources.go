package trigger

import "github.com/hochfrequenz/claude-automations/internal/domain"

// Context carries template variables from a triggering event, keyed as
// "namespace.key" (e.g. "pr.title", "event.kind").
type Context map[string]string

// FileEvent is one filesystem change reported by a FileSource
type FileEvent struct {
	Path string
	Op   string
}

// DoneSource reports "agent finished" events. The callback receives the
// scope identifier of the finished session. Every On* method returns an
// unsubscribe function; the matcher accumulates and calls them on Close,
// which keeps teardown explicit instead of relying on an event bus.
type DoneSource interface {
	OnDone(fn func(scopeID string)) (unsubscribe func())
}

// GitSource reports edge-triggered transitions of upstream tracked
// resources. The source compares previous and current state itself and
// only calls back on an actual transition.
type GitSource interface {
	OnTransition(fn func(projectPath string, kind domain.GitEventKind, ctx Context)) (unsubscribe func())
}

// FileSource reports batches of filesystem changes
type FileSource interface {
	OnChangeBatch(fn func(events []FileEvent)) (unsubscribe func())
}
