package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hochfrequenz/claude-automations/internal/domain"
)

// schemaVersion is written into every persisted file for future migration
const schemaVersion = 1

const (
	automationsFile = "automations.json"
	runsFile        = "runs.json"
)

// ErrNotFound is returned when an automation or run does not exist
var ErrNotFound = errors.New("not found")

// Store provides durable CRUD for automation definitions and run history.
// Definitions and history live in two independent files so a corrupted
// history file can never block loading definitions.
type Store struct {
	dir    string
	logger *slog.Logger

	mu          sync.Mutex
	automations []*domain.Automation
	runs        []*domain.Run // newest first
}

type automationsDoc struct {
	Version     int                  `json:"version"`
	Automations []*domain.Automation `json:"automations"`
}

type runsDoc struct {
	Version int           `json:"version"`
	Runs    []*domain.Run `json:"runs"`
}

// New opens (or creates) a store rooted at dir
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	s := &Store{dir: dir, logger: logger}

	var doc automationsDoc
	if err := readJSON(filepath.Join(dir, automationsFile), &doc); err != nil {
		return nil, fmt.Errorf("loading automations: %w", err)
	}
	s.automations = doc.Automations

	// A broken history file degrades to empty history, never a startup failure
	var runs runsDoc
	if err := readJSON(filepath.Join(dir, runsFile), &runs); err != nil {
		logger.Warn("run history unreadable, starting with empty history", "error", err)
	} else {
		s.runs = runs.Runs
	}

	return s, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// writeAtomic serializes v to a temporary sibling file and renames it over
// path, so a crash mid-write leaves the previous file intact.
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) saveAutomations() error {
	return writeAtomic(filepath.Join(s.dir, automationsFile), automationsDoc{
		Version:     schemaVersion,
		Automations: s.automations,
	})
}

func (s *Store) saveRuns() error {
	return writeAtomic(filepath.Join(s.dir, runsFile), runsDoc{
		Version: schemaVersion,
		Runs:    s.runs,
	})
}

// ListAutomations returns all automation definitions
func (s *Store) ListAutomations() []*domain.Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Automation, len(s.automations))
	copy(out, s.automations)
	return out
}

// GetAutomation retrieves an automation by ID
func (s *Store) GetAutomation(id string) (*domain.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.automations {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// CreateAutomation persists a new definition
func (s *Store) CreateAutomation(a *domain.Automation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.automations {
		if existing.ID == a.ID {
			return fmt.Errorf("automation %s already exists", a.ID)
		}
	}
	s.automations = append(s.automations, a)
	return s.saveAutomations()
}

// UpdateAutomation applies a partial update and persists
func (s *Store) UpdateAutomation(id string, u domain.AutomationUpdate) (*domain.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.automations {
		if a.ID == id {
			// Validate on a copy so a rejected update cannot leave
			// invalid fields in the live record
			updated := *a
			u.Apply(&updated)
			if err := updated.Validate(); err != nil {
				return nil, err
			}
			*a = updated
			return a, s.saveAutomations()
		}
	}
	return nil, ErrNotFound
}

// DeleteAutomation removes a definition and its run history
func (s *Store) DeleteAutomation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, a := range s.automations {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNotFound
	}
	s.automations = append(s.automations[:idx], s.automations[idx+1:]...)
	if err := s.saveAutomations(); err != nil {
		return err
	}

	kept := s.runs[:0]
	for _, r := range s.runs {
		if r.AutomationID != id {
			kept = append(kept, r)
		}
	}
	s.runs = kept
	if err := s.saveRuns(); err != nil {
		s.logger.Warn("pruning runs of deleted automation failed", "error", err)
	}
	return nil
}

// ListRuns returns run history newest-first, optionally filtered by
// automation ID and capped at limit (0 means no cap).
func (s *Store) ListRuns(automationID string, limit int) []*domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Run
	for _, r := range s.runs {
		if automationID != "" && r.AutomationID != automationID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// AppendRun records a new run at the head of the history
func (s *Store) AppendRun(r *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append([]*domain.Run{r}, s.runs...)
	return s.saveRuns()
}

// UpdateRun mutates a run through fn and persists. Status transitions are
// one-way: an attempt to move a terminal run is ignored, so a late write
// from a finishing runner cannot overwrite a user stop.
func (s *Store) UpdateRun(id string, fn func(r *domain.Run)) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID != id {
			continue
		}
		before := r.Status
		updated := *r
		fn(&updated)
		if !before.CanTransition(updated.Status) {
			return r, nil
		}
		*r = updated
		return r, s.saveRuns()
	}
	return nil, ErrNotFound
}

// MarkRunRead sets the read flag
func (s *Store) MarkRunRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			r.Read = true
			return s.saveRuns()
		}
	}
	return ErrNotFound
}

// DeleteRun removes a single run record
func (s *Store) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.ID == id {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			return s.saveRuns()
		}
	}
	return ErrNotFound
}

// PruneRuns keeps the newest max runs per automation. Calling it again
// with the same cap is a no-op.
func (s *Store) PruneRuns(max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	kept := s.runs[:0]
	pruned := false
	for _, r := range s.runs {
		counts[r.AutomationID]++
		if counts[r.AutomationID] > max {
			pruned = true
			continue
		}
		kept = append(kept, r)
	}
	s.runs = kept
	if !pruned {
		return nil
	}
	return s.saveRuns()
}

// RecoverInterruptedRuns rewrites any run still marked running to failed.
// Called once at startup, before any scheduler or trigger registration,
// so a crashed predecessor's records cannot be mistaken for live work.
func (s *Store) RecoverInterruptedRuns(reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, r := range s.runs {
		if r.Status != domain.RunRunning {
			continue
		}
		r.Status = domain.RunFailed
		r.Error = reason
		r.CompletedAt = &now
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return count, s.saveRuns()
}
