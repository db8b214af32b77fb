package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/claude-automations/internal/domain"
)

// FireFunc is invoked when an automation's schedule fires
type FireFunc func(a *domain.Automation)

// ParseCron parses a standard 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Scheduler arms one timer per enabled schedule-trigger automation and
// replays fires that were missed while the process was suspended.
type Scheduler struct {
	fire   FireFunc
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sched cron.Schedule
	stop  chan struct{}
}

// New creates a scheduler. window bounds missed-run replay: fires older
// than now-window are considered stale and skipped.
func New(window time.Duration, fire FireFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		fire:    fire,
		window:  window,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Start arms the timer for a schedule-trigger automation. Automations with
// other trigger types or disabled ones are skipped without error.
func (s *Scheduler) Start(a *domain.Automation) error {
	if a.Trigger.Type != domain.TriggerSchedule || !a.Enabled {
		return nil
	}
	sched, err := ParseCron(a.Trigger.Cron)
	if err != nil {
		return fmt.Errorf("parsing cron %q: %w", a.Trigger.Cron, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[a.ID]; ok {
		close(old.stop)
	}
	e := &entry{sched: sched, stop: make(chan struct{})}
	s.entries[a.ID] = e
	s.mu.Unlock()

	go s.loop(a, e)
	s.logger.Debug("schedule armed", "automation", a.ID, "cron", a.Trigger.Cron)
	return nil
}

func (s *Scheduler) loop(a *domain.Automation, e *entry) {
	for {
		now := s.now()
		next := e.sched.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
			s.fire(a)
		}
	}
}

// Stop disarms the timer for an automation
func (s *Scheduler) Stop(automationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[automationID]; ok {
		close(e.stop)
		delete(s.entries, automationID)
	}
}

// StopAll disarms every timer
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		close(e.stop)
		delete(s.entries, id)
	}
}

// NextFireTime returns the next scheduled fire for an armed automation
func (s *Scheduler) NextFireTime(automationID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[automationID]
	if !ok {
		return time.Time{}, false
	}
	return e.sched.Next(s.now()), true
}

// PrevFireTime returns the most recent fire at or before now, looking back
// at most window. The cron engine only exposes Next, so the previous fire
// is found by walking forward from the window floor.
func PrevFireTime(sched cron.Schedule, now time.Time, window time.Duration) (time.Time, bool) {
	t := now.Add(-window)
	var prev time.Time
	found := false
	for {
		next := sched.Next(t)
		if next.IsZero() || next.After(now) {
			break
		}
		prev = next
		found = true
		t = next
	}
	return prev, found
}

// CheckMissedRuns fires every enabled schedule automation whose most recent
// scheduled fire falls inside the recency window and strictly after that
// automation's last recorded run start. Called at startup and on
// resume-from-sleep. Returns the number of automations fired.
func (s *Scheduler) CheckMissedRuns(automations []*domain.Automation, lastStart map[string]time.Time) int {
	now := s.now()
	fired := 0
	for _, a := range automations {
		if a.Trigger.Type != domain.TriggerSchedule || !a.Enabled {
			continue
		}
		sched, err := ParseCron(a.Trigger.Cron)
		if err != nil {
			s.logger.Warn("skipping automation with bad cron", "automation", a.ID, "error", err)
			continue
		}
		prev, ok := PrevFireTime(sched, now, s.window)
		if !ok {
			continue
		}
		if !prev.After(lastStart[a.ID]) {
			continue
		}
		s.logger.Info("replaying missed run", "automation", a.ID, "missed_at", prev)
		s.fire(a)
		fired++
	}
	return fired
}
