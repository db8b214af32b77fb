package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/claude-automations/internal/trigger"
)

// skipDirs are directory names never watched inside a project tree
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	".venv":        {},
}

// Watcher monitors project repositories for file changes and reports them
// as debounced batches. It implements trigger.FileSource.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	roots     map[string]struct{}
	pending   map[string]string // path -> op of the last event seen
	timer     *time.Timer
	listeners map[int]func([]trigger.FileEvent)
	nextID    int

	cancel context.CancelFunc
}

// New creates a watcher with the given debounce window
func New(debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   fsw,
		debounce:  debounce,
		logger:    logger,
		roots:     make(map[string]struct{}),
		pending:   make(map[string]string),
		listeners: make(map[int]func([]trigger.FileEvent)),
	}, nil
}

// AddProject starts watching a project repository recursively. Directories
// created later under the root are picked up as their create events arrive.
func (w *Watcher) AddProject(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.roots[root]; ok {
		return nil
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !info.IsDir() {
			return nil
		}
		if _, skip := skipDirs[info.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		return err
	}

	w.roots[root] = struct{}{}
	w.logger.Debug("watching project", "root", root)
	return nil
}

// RemoveProject stops watching a project repository
func (w *Watcher) RemoveProject(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.roots[root]; !ok {
		return
	}
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			w.watcher.Remove(path)
		}
		return nil
	})
	delete(w.roots, root)
}

// OnChangeBatch registers a listener for debounced change batches and
// returns its unsubscribe function.
func (w *Watcher) OnChangeBatch(fn func(events []trigger.FileEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

// Start begins processing filesystem events until ctx is done or Stop is
// called
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "error", err)
			}
		}
	}()
}

// Stop shuts the watcher down
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// A new directory must itself be watched so changes inside it arrive
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, skip := skipDirs[filepath.Base(event.Name)]; !skip {
				w.watcher.Add(event.Name)
			}
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = opString(event.Op)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]string)
	listeners := make([]func([]trigger.FileEvent), 0, len(w.listeners))
	for _, fn := range w.listeners {
		listeners = append(listeners, fn)
	}
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	events := make([]trigger.FileEvent, 0, len(pending))
	for path, op := range pending {
		events = append(events, trigger.FileEvent{Path: path, Op: op})
	}
	for _, fn := range listeners {
		fn(events)
	}
}

func opString(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	default:
		return "chmod"
	}
}
