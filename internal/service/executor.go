package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hochfrequenz/claude-automations/internal/domain"
	"github.com/hochfrequenz/claude-automations/internal/runner"
	"github.com/hochfrequenz/claude-automations/internal/worktree"
)

// ExecResult carries the terminal fields of a finished run
type ExecResult struct {
	Status       domain.RunStatus
	Result       string
	SessionID    string
	Summary      string
	WorktreePath string
	ExitCode     int
	Error        string
}

// Executor runs an automation in an isolated checkout. The service owns
// run records and gating; the executor owns the checkout and the agent
// process.
type Executor interface {
	Execute(ctx context.Context, runID string, a *domain.Automation, repoPath, prompt string) ExecResult
	Stop(runID string)
}

// AgentExecutor is the production Executor: git worktree per run, claude
// subprocess inside it, worktree retained only when it has changes.
type AgentExecutor struct {
	worktrees *worktree.Manager
	runner    *runner.Runner
	maxTurns  int
	logger    *slog.Logger
}

// NewAgentExecutor wires the worktree manager and runner together
func NewAgentExecutor(wt *worktree.Manager, r *runner.Runner, maxTurns int, logger *slog.Logger) *AgentExecutor {
	return &AgentExecutor{worktrees: wt, runner: r, maxTurns: maxTurns, logger: logger}
}

// Execute performs one full run: create worktree, run the agent, decide
// worktree disposition. Never panics; every failure maps to a failed
// result with a message.
func (e *AgentExecutor) Execute(ctx context.Context, runID string, a *domain.Automation, repoPath, prompt string) ExecResult {
	wtPath, _, err := e.worktrees.Create(ctx, repoPath, a.Name, a.BaseBranch)
	if err != nil {
		return ExecResult{Status: domain.RunFailed, ExitCode: -1, Error: "creating worktree: " + err.Error()}
	}

	out, runErr := e.runner.Run(ctx, runID, prompt, wtPath, runner.Options{
		Timeout:  time.Duration(a.TimeoutMinutes) * time.Minute,
		MaxTurns: e.maxTurns,
	})

	res := ExecResult{
		Result:       out.Result,
		SessionID:    out.SessionID,
		Summary:      out.Summary,
		ExitCode:     out.ExitCode,
		WorktreePath: wtPath,
	}

	changed, err := e.worktrees.HasChanges(wtPath)
	if err != nil {
		e.logger.Warn("checking worktree changes", "run", runID, "error", err)
	}
	if !changed {
		if err := e.worktrees.Remove(repoPath, wtPath); err != nil {
			e.logger.Warn("removing clean worktree", "run", runID, "error", err)
		}
		res.WorktreePath = ""
	}

	if runErr != nil {
		res.Status = domain.RunFailed
		res.Error = runErr.Error()
	} else {
		res.Status = domain.RunCompleted
	}
	return res
}

// Stop kills the agent process tree of a running execution
func (e *AgentExecutor) Stop(runID string) {
	e.runner.Stop(runID)
}
