package schedule

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-automations/internal/domain"
)

func scheduleAutomation(id, cronExpr string, enabled bool) *domain.Automation {
	return &domain.Automation{
		ID:             id,
		Name:           id,
		Prompt:         "p",
		ProjectIDs:     []string{"myapp"},
		Trigger:        domain.Trigger{Type: domain.TriggerSchedule, Cron: cronExpr},
		Enabled:        enabled,
		TimeoutMinutes: 30,
	}
}

// fireRecorder collects fired automations
type fireRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (f *fireRecorder) fire(a *domain.Automation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, a.ID)
}

func (f *fireRecorder) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fired...)
}

func TestParseCron(t *testing.T) {
	if _, err := ParseCron("0 9 * * 1-5"); err != nil {
		t.Errorf("ParseCron(weekday 9am) error = %v", err)
	}
	if _, err := ParseCron("not a cron"); err == nil {
		t.Error("ParseCron expected error for garbage")
	}
	if _, err := ParseCron("0 9 * *"); err == nil {
		t.Error("ParseCron expected error for 4 fields")
	}
}

func TestPrevFireTime(t *testing.T) {
	sched, err := ParseCron("0 9 * * 1-5")
	if err != nil {
		t.Fatal(err)
	}

	// Wednesday 2026-01-07 10:00 UTC: previous fire is 09:00 same day
	now := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	prev, ok := PrevFireTime(sched, now, 24*time.Hour)
	if !ok {
		t.Fatal("PrevFireTime found nothing")
	}
	want := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)
	if !prev.Equal(want) {
		t.Errorf("prev = %v, want %v", prev, want)
	}

	// Monday 08:00: the last weekday fire was Friday 09:00, outside a 24h window
	now = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	if _, ok := PrevFireTime(sched, now, 24*time.Hour); ok {
		t.Error("PrevFireTime found a fire outside the window")
	}

	// Same Monday with a 72h window reaches back to Friday
	prev, ok = PrevFireTime(sched, now, 72*time.Hour)
	if !ok {
		t.Fatal("PrevFireTime found nothing in 72h window")
	}
	want = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if !prev.Equal(want) {
		t.Errorf("prev = %v, want %v", prev, want)
	}
}

func TestCheckMissedRuns_InsideWindowFiresOnce(t *testing.T) {
	rec := &fireRecorder{}
	s := New(24*time.Hour, rec.fire, slog.Default())
	s.now = func() time.Time {
		return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC) // Wed 10:00
	}

	a := scheduleAutomation("a1", "0 9 * * 1-5", true)
	// Last run was yesterday: today's 09:00 fire was missed
	last := map[string]time.Time{
		"a1": time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
	}

	if n := s.CheckMissedRuns([]*domain.Automation{a}, last); n != 1 {
		t.Errorf("fired = %d, want 1", n)
	}
	if ids := rec.ids(); len(ids) != 1 || ids[0] != "a1" {
		t.Errorf("fired ids = %v", ids)
	}
}

func TestCheckMissedRuns_AlreadyRan(t *testing.T) {
	rec := &fireRecorder{}
	s := New(24*time.Hour, rec.fire, slog.Default())
	s.now = func() time.Time {
		return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	}

	a := scheduleAutomation("a1", "0 9 * * 1-5", true)
	// Last run at exactly the previous fire: nothing was missed
	last := map[string]time.Time{
		"a1": time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC),
	}

	if n := s.CheckMissedRuns([]*domain.Automation{a}, last); n != 0 {
		t.Errorf("fired = %d, want 0", n)
	}
}

func TestCheckMissedRuns_StaleFireSkipped(t *testing.T) {
	rec := &fireRecorder{}
	s := New(24*time.Hour, rec.fire, slog.Default())
	// Monday 08:00: the Friday 09:00 fire is older than the window
	s.now = func() time.Time {
		return time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	}

	a := scheduleAutomation("a1", "0 9 * * 1-5", true)
	if n := s.CheckMissedRuns([]*domain.Automation{a}, map[string]time.Time{}); n != 0 {
		t.Errorf("fired = %d, want 0 (stale fire after a week asleep)", n)
	}
}

func TestCheckMissedRuns_SkipsDisabledAndNonSchedule(t *testing.T) {
	rec := &fireRecorder{}
	s := New(24*time.Hour, rec.fire, slog.Default())
	s.now = func() time.Time {
		return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	}

	disabled := scheduleAutomation("off", "0 9 * * *", false)
	fileTrigger := &domain.Automation{
		ID: "files", Name: "files", Prompt: "p", ProjectIDs: []string{"x"},
		Trigger:        domain.Trigger{Type: domain.TriggerFileChange, Patterns: []string{"*.go"}},
		Enabled:        true,
		TimeoutMinutes: 30,
	}

	if n := s.CheckMissedRuns([]*domain.Automation{disabled, fileTrigger}, nil); n != 0 {
		t.Errorf("fired = %d, want 0", n)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	rec := &fireRecorder{}
	s := New(24*time.Hour, rec.fire, slog.Default())

	a := scheduleAutomation("a1", "0 9 * * 1-5", true)
	if err := s.Start(a); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, ok := s.NextFireTime("a1"); !ok {
		t.Error("NextFireTime not available after Start")
	}

	s.Stop("a1")
	if _, ok := s.NextFireTime("a1"); ok {
		t.Error("NextFireTime still available after Stop")
	}
}

func TestScheduler_StartRejectsBadCron(t *testing.T) {
	s := New(24*time.Hour, func(*domain.Automation) {}, slog.Default())
	a := scheduleAutomation("a1", "bogus", true)
	if err := s.Start(a); err == nil {
		t.Error("Start() expected error for bad cron")
	}
}

func TestScheduler_StartSkipsDisabled(t *testing.T) {
	s := New(24*time.Hour, func(*domain.Automation) {}, slog.Default())
	a := scheduleAutomation("a1", "0 9 * * *", false)
	if err := s.Start(a); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, ok := s.NextFireTime("a1"); ok {
		t.Error("disabled automation must not be armed")
	}
}

func TestScheduler_TimerFires(t *testing.T) {
	rec := &fireRecorder{}
	s := New(24*time.Hour, rec.fire, slog.Default())

	// Every-minute cron with a fake clock sitting just before a boundary,
	// so the first timer fires after ~50ms and the re-arm waits a minute.
	boundary := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	calls := 0
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return boundary.Add(-50 * time.Millisecond)
		}
		return boundary.Add(time.Second)
	}

	a := scheduleAutomation("a1", "* * * * *", true)
	if err := s.Start(a); err != nil {
		t.Fatal(err)
	}
	defer s.StopAll()

	deadline := time.After(2 * time.Second)
	for {
		if len(rec.ids()) > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timer did not fire")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
