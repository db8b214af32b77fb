package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/claude-automations/internal/config"
	"github.com/hochfrequenz/claude-automations/internal/domain"
	"github.com/hochfrequenz/claude-automations/internal/notify"
	"github.com/hochfrequenz/claude-automations/internal/runner"
	"github.com/hochfrequenz/claude-automations/internal/schedule"
	"github.com/hochfrequenz/claude-automations/internal/store"
	"github.com/hochfrequenz/claude-automations/internal/trigger"
)

// Event is a run lifecycle notification for API consumers
type Event struct {
	Type string      `json:"type"` // run_started, run_finished, run_stopped
	Run  *domain.Run `json:"run,omitempty"`
}

// EventListener receives run lifecycle events
type EventListener func(e Event)

// Service coordinates automations: definitions, gating, run execution,
// schedulers and event trigger wiring. All mutation goes through here.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	sched    *schedule.Scheduler
	exec     Executor
	notifier notify.Notifier
	logger   *slog.Logger

	matcher *trigger.Matcher

	mu        sync.Mutex
	active    map[string]string // "automationID\x00projectID" -> runID
	listeners []EventListener
	wg        sync.WaitGroup
	destroyed bool
}

// New creates the service. Interrupted runs from a previous process are
// recovered before any trigger can fire.
func New(cfg *config.Config, st *store.Store, exec Executor, notifier notify.Notifier, logger *slog.Logger) (*Service, error) {
	recovered, err := st.RecoverInterruptedRuns("interrupted by application restart")
	if err != nil {
		return nil, fmt.Errorf("recovering interrupted runs: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted runs", "count", recovered)
	}

	s := &Service{
		cfg:      cfg,
		store:    st,
		exec:     exec,
		notifier: notifier,
		logger:   logger,
		active:   make(map[string]string),
	}
	s.sched = schedule.New(
		time.Duration(cfg.Scheduler.MissedRunWindowHours)*time.Hour,
		s.fireScheduled,
		logger,
	)
	return s, nil
}

// OnEvent registers a run lifecycle listener
func (s *Service) OnEvent(fn EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) emit(e Event) {
	s.mu.Lock()
	listeners := append([]EventListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// --- automation CRUD ---

// CreateAutomation validates and persists a new automation and arms its
// schedule when applicable
func (s *Service) CreateAutomation(a *domain.Automation) (*domain.Automation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.TimeoutMinutes == 0 {
		a.TimeoutMinutes = s.cfg.Runs.DefaultTimeoutMinutes
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.validateCron(a); err != nil {
		return nil, err
	}
	for _, pid := range a.ProjectIDs {
		if _, ok := s.cfg.Projects[pid]; !ok {
			return nil, fmt.Errorf("unknown project %q", pid)
		}
	}

	if err := s.store.CreateAutomation(a); err != nil {
		return nil, err
	}
	if err := s.sched.Start(a); err != nil {
		s.logger.Warn("arming schedule", "automation", a.ID, "error", err)
	}
	return a, nil
}

// UpdateAutomation applies an allow-listed partial update and re-arms the
// schedule
func (s *Service) UpdateAutomation(id string, u domain.AutomationUpdate) (*domain.Automation, error) {
	if u.Trigger != nil && u.Trigger.Type == domain.TriggerSchedule {
		if _, err := schedule.ParseCron(u.Trigger.Cron); err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
	}
	a, err := s.store.UpdateAutomation(id, u)
	if err != nil {
		return nil, err
	}

	s.sched.Stop(id)
	if err := s.sched.Start(a); err != nil {
		s.logger.Warn("re-arming schedule", "automation", id, "error", err)
	}
	return a, nil
}

// DeleteAutomation stops any running runs of the automation, disarms its
// schedule and removes it together with its run history
func (s *Service) DeleteAutomation(id string) error {
	s.sched.Stop(id)

	for _, r := range s.store.ListRuns(id, 0) {
		if r.Status == domain.RunRunning {
			s.StopRun(r.ID)
		}
	}
	return s.store.DeleteAutomation(id)
}

// ToggleAutomation flips the enabled flag
func (s *Service) ToggleAutomation(id string, enabled bool) (*domain.Automation, error) {
	a, err := s.store.UpdateAutomation(id, domain.AutomationUpdate{Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	if enabled {
		if err := s.sched.Start(a); err != nil {
			s.logger.Warn("arming schedule", "automation", id, "error", err)
		}
	} else {
		s.sched.Stop(id)
	}
	return a, nil
}

// ListAutomations returns all automation definitions
func (s *Service) ListAutomations() []*domain.Automation {
	return s.store.ListAutomations()
}

// GetAutomation returns one automation
func (s *Service) GetAutomation(id string) (*domain.Automation, error) {
	return s.store.GetAutomation(id)
}

// GetNextRunTime returns the next scheduled fire for an armed automation
func (s *Service) GetNextRunTime(id string) (time.Time, bool) {
	return s.sched.NextFireTime(id)
}

func (s *Service) validateCron(a *domain.Automation) error {
	if a.Trigger.Type != domain.TriggerSchedule {
		return nil
	}
	if _, err := schedule.ParseCron(a.Trigger.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// --- runs ---

// GetRuns returns run history for one automation (or all when id is
// empty), newest first
func (s *Service) GetRuns(automationID string, limit int) []*domain.Run {
	return s.store.ListRuns(automationID, limit)
}

// GetRun returns one run
func (s *Service) GetRun(id string) (*domain.Run, error) {
	return s.store.GetRun(id)
}

// MarkRunRead marks a run's result as seen
func (s *Service) MarkRunRead(id string) error {
	return s.store.MarkRunRead(id)
}

// DeleteRun removes a run record
func (s *Service) DeleteRun(id string) error {
	return s.store.DeleteRun(id)
}

// TriggerRun fires an automation for one project. Rejections by the
// concurrency gate are silent no-ops: the run simply does not happen.
// Returns the created run, or nil when gated.
func (s *Service) TriggerRun(a *domain.Automation, projectID string, tctx trigger.Context) *domain.Run {
	repoPath, ok := s.cfg.Projects[projectID]
	if !ok {
		s.logger.Warn("trigger for unknown project", "automation", a.ID, "project", projectID)
		return nil
	}

	key := a.ID + "\x00" + projectID
	runID := uuid.NewString()

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	if len(s.active) >= s.cfg.Runs.MaxConcurrent {
		s.mu.Unlock()
		s.logger.Info("run gated, concurrency limit reached", "automation", a.ID, "project", projectID)
		return nil
	}
	if _, dup := s.active[key]; dup {
		s.mu.Unlock()
		s.logger.Info("run gated, already running", "automation", a.ID, "project", projectID)
		return nil
	}
	s.active[key] = runID
	s.wg.Add(1)
	s.mu.Unlock()

	run := &domain.Run{
		ID:           runID,
		AutomationID: a.ID,
		ProjectID:    projectID,
		Status:       domain.RunRunning,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.store.AppendRun(run); err != nil {
		s.logger.Error("persisting run", "run", runID, "error", err)
		s.release(key)
		s.wg.Done()
		return nil
	}
	s.emit(Event{Type: "run_started", Run: run})

	prompt := runner.ResolvePrompt(a.Prompt, tctx, s.logger)
	go func() {
		defer s.wg.Done()
		defer s.release(key)
		s.executeRun(run, a, repoPath, prompt)
	}()
	return run
}

func (s *Service) release(key string) {
	s.mu.Lock()
	delete(s.active, key)
	s.mu.Unlock()
}

func (s *Service) executeRun(run *domain.Run, a *domain.Automation, repoPath, prompt string) {
	s.logger.Info("run started", "run", run.ID, "automation", a.Name, "project", run.ProjectID)
	res := s.exec.Execute(context.Background(), run.ID, a, repoPath, prompt)

	updated, err := s.store.UpdateRun(run.ID, func(r *domain.Run) {
		now := time.Now().UTC()
		r.Status = res.Status
		r.CompletedAt = &now
		r.Result = res.Result
		r.SessionID = res.SessionID
		r.Summary = res.Summary
		r.WorktreePath = res.WorktreePath
		r.ExitCode = res.ExitCode
		r.Error = res.Error
	})
	if err != nil {
		s.logger.Error("finalizing run", "run", run.ID, "error", err)
		return
	}
	if err := s.store.PruneRuns(s.cfg.Runs.MaxRunsPerAutomation); err != nil {
		s.logger.Warn("pruning run history", "error", err)
	}

	s.logger.Info("run finished", "run", run.ID, "status", updated.Status)
	s.emit(Event{Type: "run_finished", Run: updated})
	if s.notifier != nil {
		if err := s.notifier.Send(notify.ForRun(a.Name, updated)); err != nil {
			s.logger.Warn("sending notification", "run", run.ID, "error", err)
		}
	}
}

// StopRun marks a running run failed and then kills its process tree. The
// record is finalized first so the executor's own terminal write, whenever
// it lands, hits the transition guard and is ignored.
func (s *Service) StopRun(runID string) error {
	stopped := false
	updated, err := s.store.UpdateRun(runID, func(r *domain.Run) {
		if r.Status != domain.RunRunning {
			return
		}
		stopped = true
		now := time.Now().UTC()
		r.Status = domain.RunFailed
		r.CompletedAt = &now
		r.Error = "stopped by user"
	})
	if err != nil {
		return err
	}
	// Already terminal: nothing to kill, and listeners should not see a
	// stop that never happened
	if !stopped {
		return nil
	}
	s.exec.Stop(runID)
	s.emit(Event{Type: "run_stopped", Run: updated})
	return nil
}

// --- trigger plumbing ---

// fireScheduled is the scheduler callback: one run per target project
func (s *Service) fireScheduled(a *domain.Automation) {
	// Re-read the definition; it may have changed since arming
	current, err := s.store.GetAutomation(a.ID)
	if err != nil || !current.Enabled {
		return
	}
	for _, pid := range current.ProjectIDs {
		s.TriggerRun(current, pid, nil)
	}
}

// StartAllSchedulers arms timers for every enabled schedule automation
func (s *Service) StartAllSchedulers() {
	for _, a := range s.store.ListAutomations() {
		if err := s.sched.Start(a); err != nil {
			s.logger.Warn("arming schedule", "automation", a.ID, "error", err)
		}
	}
}

// CheckMissedRuns replays schedule fires missed while the process was down
// or asleep
func (s *Service) CheckMissedRuns() int {
	lastStart := make(map[string]time.Time)
	for _, r := range s.store.ListRuns("", 0) {
		if r.StartedAt.After(lastStart[r.AutomationID]) {
			lastStart[r.AutomationID] = r.StartedAt
		}
	}
	return s.sched.CheckMissedRuns(s.store.ListAutomations(), lastStart)
}

// RegisterEventTriggers wires the event sources into a matcher firing runs
func (s *Service) RegisterEventTriggers(done trigger.DoneSource, git trigger.GitSource, file trigger.FileSource) {
	s.matcher = trigger.NewMatcher(
		s.store.ListAutomations,
		s.cfg.Projects,
		func(a *domain.Automation, projectID string, ctx trigger.Context) {
			s.TriggerRun(a, projectID, ctx)
		},
		s.logger,
	)
	s.matcher.Register(done, git, file)
}

// Destroy shuts the service down: no new runs are admitted, schedulers and
// trigger subscriptions are torn down, and every running run is stopped
// and marked failed.
func (s *Service) Destroy() error {
	s.mu.Lock()
	s.destroyed = true
	activeRuns := make([]string, 0, len(s.active))
	for _, runID := range s.active {
		activeRuns = append(activeRuns, runID)
	}
	s.mu.Unlock()

	if s.matcher != nil {
		s.matcher.Close()
	}
	s.sched.StopAll()

	var g errgroup.Group
	for _, runID := range activeRuns {
		runID := runID
		g.Go(func() error {
			// Finalize the record before the kill so the executor's late
			// write is dropped by the transition guard
			_, err := s.store.UpdateRun(runID, func(r *domain.Run) {
				if r.Status != domain.RunRunning {
					return
				}
				now := time.Now().UTC()
				r.Status = domain.RunFailed
				r.CompletedAt = &now
				r.Error = "app closed during execution"
			})
			s.exec.Stop(runID)
			return err
		})
	}
	err := g.Wait()
	s.wg.Wait()
	return err
}
