package trigger

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/claude-automations/internal/domain"
)

// FireFunc is invoked when an event matches an automation for one of its
// target projects
type FireFunc func(a *domain.Automation, projectID string, ctx Context)

// Matcher subscribes to the three external event sources and decides, per
// automation, whether an event should fire a run.
type Matcher struct {
	list     func() []*domain.Automation
	projects map[string]string // projectID -> repo path
	byPath   map[string]string // repo path -> projectID
	fire     FireFunc
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time // automationID -> last file-change fire
	unsubs    []func()
}

// NewMatcher creates a matcher. list must return the current automation
// definitions; projects maps project IDs to repository paths.
func NewMatcher(list func() []*domain.Automation, projects map[string]string, fire FireFunc, logger *slog.Logger) *Matcher {
	byPath := make(map[string]string, len(projects))
	for id, path := range projects {
		byPath[path] = id
	}
	return &Matcher{
		list:      list,
		projects:  projects,
		byPath:    byPath,
		fire:      fire,
		logger:    logger,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// Register subscribes to the given sources. Nil sources are skipped. The
// returned unsubscribe closures are retained and invoked on Close.
func (m *Matcher) Register(done DoneSource, git GitSource, file FileSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if done != nil {
		m.unsubs = append(m.unsubs, done.OnDone(m.handleDone))
	}
	if git != nil {
		m.unsubs = append(m.unsubs, git.OnTransition(m.handleGit))
	}
	if file != nil {
		m.unsubs = append(m.unsubs, file.OnChangeBatch(m.handleFileBatch))
	}
}

// Close unsubscribes from every registered source
func (m *Matcher) Close() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (m *Matcher) handleDone(scopeID string) {
	for _, a := range m.enabled(domain.TriggerClaudeDone) {
		if a.Trigger.Filter != "" && a.Trigger.Filter != scopeID {
			continue
		}
		ctx := Context{"done.scope": scopeID}
		for _, pid := range a.ProjectIDs {
			m.fire(a, pid, ctx)
		}
	}
}

func (m *Matcher) handleGit(projectPath string, kind domain.GitEventKind, ctx Context) {
	pid, ok := m.byPath[projectPath]
	if !ok {
		m.logger.Debug("git event for unknown project path", "path", projectPath)
		return
	}
	for _, a := range m.enabled(domain.TriggerGitEvent) {
		if a.Trigger.Kind != kind || !a.TargetsProject(pid) {
			continue
		}
		m.fire(a, pid, ctx)
	}
}

func (m *Matcher) handleFileBatch(events []FileEvent) {
	for _, a := range m.enabled(domain.TriggerFileChange) {
		matched := m.matchedProjects(a, events)
		if len(matched) == 0 {
			continue
		}
		if !m.passCooldown(a) {
			m.logger.Debug("file-change suppressed by cooldown", "automation", a.ID)
			continue
		}
		ctx := Context{"files.count": fmt.Sprintf("%d", len(events))}
		for _, pid := range matched {
			m.fire(a, pid, ctx)
		}
	}
}

// matchedProjects returns the automation's target projects containing at
// least one changed path that matches the automation's glob patterns
func (m *Matcher) matchedProjects(a *domain.Automation, events []FileEvent) []string {
	var matched []string
	for _, pid := range a.ProjectIDs {
		root, ok := m.projects[pid]
		if !ok {
			continue
		}
		for _, ev := range events {
			if !strings.HasPrefix(ev.Path, root+string(filepath.Separator)) && ev.Path != root {
				continue
			}
			rel, err := filepath.Rel(root, ev.Path)
			if err != nil {
				continue
			}
			if matchesAny(a.Trigger.Patterns, rel) {
				matched = append(matched, pid)
				break
			}
		}
	}
	return matched
}

// matchesAny tests a relative path against glob patterns. Patterns match
// either the whole relative path or the basename, so "*.go" catches files
// in subdirectories too.
func matchesAny(patterns []string, rel string) bool {
	base := filepath.Base(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// passCooldown checks and updates the per-automation last-fired timestamp
func (m *Matcher) passCooldown(a *domain.Automation) bool {
	cooldown := time.Duration(a.Trigger.CooldownSeconds) * time.Second

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.lastFired[a.ID]; ok && now.Sub(last) < cooldown {
		return false
	}
	m.lastFired[a.ID] = now
	return true
}

func (m *Matcher) enabled(tt domain.TriggerType) []*domain.Automation {
	var out []*domain.Automation
	for _, a := range m.list() {
		if a.Enabled && a.Trigger.Type == tt {
			out = append(out, a)
		}
	}
	return out
}
