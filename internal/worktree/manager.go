package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const branchPrefix = "claude/auto-"

// Manager creates and disposes isolated git worktrees for automation runs.
// Creation is serialized per repository in arrival order; runs in different
// repositories proceed concurrently.
type Manager struct {
	worktreeDir string
	logger      *slog.Logger
	locks       *repoLock
	now         func() time.Time
}

// New creates a manager placing worktrees under worktreeDir
func New(worktreeDir string, logger *slog.Logger) *Manager {
	return &Manager{
		worktreeDir: worktreeDir,
		logger:      logger,
		locks:       newRepoLock(),
		now:         time.Now,
	}
}

// Create adds a fresh worktree for repoPath on a new branch derived from
// name. baseBranch may be empty, in which case the repository's current
// HEAD is used. Returns the worktree path and the branch name.
func (m *Manager) Create(ctx context.Context, repoPath, name, baseBranch string) (string, string, error) {
	release, err := m.locks.acquire(ctx, repoPath)
	if err != nil {
		return "", "", err
	}
	defer release()

	if err := os.MkdirAll(m.worktreeDir, 0755); err != nil {
		return "", "", fmt.Errorf("creating worktree dir: %w", err)
	}

	slug := Slug(name)
	ts := m.now().Unix()
	branch := fmt.Sprintf("%s%s-%d", branchPrefix, slug, ts)
	wtPath := filepath.Join(m.worktreeDir, fmt.Sprintf("auto-%s-%d", slug, ts))

	base := m.resolveBase(ctx, repoPath, baseBranch)

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, wtPath, base)
	cmd.Dir = repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("git worktree add: %s: %w", strings.TrimSpace(string(out)), err)
	}

	m.logger.Debug("worktree created", "path", wtPath, "branch", branch, "base", base)
	return wtPath, branch, nil
}

// resolveBase fetches the configured base branch and verifies it exists,
// falling back to the repository HEAD when it does not
func (m *Manager) resolveBase(ctx context.Context, repoPath, baseBranch string) string {
	if baseBranch == "" {
		return "HEAD"
	}

	fetch := exec.CommandContext(ctx, "git", "fetch", "origin", baseBranch)
	fetch.Dir = repoPath
	fetch.Run() // remote may not exist

	for _, candidate := range []string{"origin/" + baseBranch, baseBranch} {
		check := exec.CommandContext(ctx, "git", "rev-parse", "--verify", candidate)
		check.Dir = repoPath
		if check.Run() == nil {
			return candidate
		}
	}

	m.logger.Warn("base branch not found, using HEAD", "repo", repoPath, "base", baseBranch)
	return "HEAD"
}

// Remove force-removes a worktree and deletes its branch
func (m *Manager) Remove(repoPath, wtPath string) error {
	branchCmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	branchCmd.Dir = wtPath
	branchOut, _ := branchCmd.Output()
	branch := strings.TrimSpace(string(branchOut))

	cmd := exec.Command("git", "worktree", "remove", "--force", wtPath)
	cmd.Dir = repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree remove: %s: %w", strings.TrimSpace(string(out)), err)
	}

	if strings.HasPrefix(branch, branchPrefix) {
		del := exec.Command("git", "branch", "-D", branch)
		del.Dir = repoPath
		del.Run() // branch may be checked out elsewhere or already gone
	}
	return nil
}

// HasChanges reports whether the worktree has uncommitted changes or
// untracked files
func (m *Manager) HasChanges(wtPath string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = wtPath
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// Sweep removes worktree directories older than retention, judged by the
// unix timestamp embedded in the directory name. repoPaths maps project
// IDs to repositories and is used to detach swept worktrees properly.
// Returns the number of worktrees removed.
func (m *Manager) Sweep(repoPaths map[string]string, retention time.Duration) int {
	entries, err := os.ReadDir(m.worktreeDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("reading worktree dir", "error", err)
		}
		return 0
	}

	cutoff := m.now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ts, ok := parseTimestamp(e.Name())
		if !ok || ts.After(cutoff) {
			continue
		}
		wtPath := filepath.Join(m.worktreeDir, e.Name())
		if m.sweepOne(repoPaths, wtPath) {
			removed++
		}
	}
	return removed
}

func (m *Manager) sweepOne(repoPaths map[string]string, wtPath string) bool {
	for _, repo := range repoPaths {
		if err := m.Remove(repo, wtPath); err == nil {
			m.logger.Info("swept stale worktree", "path", wtPath)
			return true
		}
	}
	// Not registered with any known repository, remove the directory itself
	if err := os.RemoveAll(wtPath); err != nil {
		m.logger.Warn("removing stale worktree dir", "path", wtPath, "error", err)
		return false
	}
	m.logger.Info("swept stale worktree", "path", wtPath)
	return true
}

// StartSweeper runs Sweep on an interval until ctx is done
func (m *Manager) StartSweeper(ctx context.Context, interval, retention time.Duration, repoPaths func() map[string]string) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(repoPaths(), retention)
			}
		}
	}()
}

// parseTimestamp extracts the trailing unix timestamp from a worktree
// directory name like "auto-nightly-review-1767778800"
func parseTimestamp(dirName string) (time.Time, bool) {
	idx := strings.LastIndexByte(dirName, '-')
	if idx < 0 {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(dirName[idx+1:], 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// Slug lowercases a name and collapses everything that is not a letter or
// digit into single dashes, for use in branch and directory names
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
