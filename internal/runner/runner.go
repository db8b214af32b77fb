package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options controls a single agent invocation
type Options struct {
	Timeout         time.Duration
	MaxTurns        int
	ResumeSessionID string
}

// Outcome is what the agent produced. ExitCode is -1 when the process was
// killed before exiting on its own.
type Outcome struct {
	Result          string
	SessionID       string
	Summary         string
	ExitCode        int
	TimedOut        bool
	OutputTruncated bool
	Stderr          string
}

// agentOutput is the single JSON object the agent prints with
// --output-format json
type agentOutput struct {
	Result           string `json:"result"`
	SessionID        string `json:"session_id"`
	IsError          bool   `json:"is_error"`
	StructuredOutput *struct {
		Summary string `json:"summary"`
	} `json:"structured_output,omitempty"`
}

// Runner starts agent subprocesses and enforces their limits. One Runner
// serves all runs; executions are tracked by run ID so Stop and output
// subscription can reach them.
type Runner struct {
	binary         string
	maxOutputBytes int64
	logger         *slog.Logger

	mu     sync.Mutex
	active map[string]*execution
}

type execution struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[int]chan string
	nextID int
}

// New creates a runner invoking the given agent binary
func New(binary string, maxOutputBytes int64, logger *slog.Logger) *Runner {
	return &Runner{
		binary:         binary,
		maxOutputBytes: maxOutputBytes,
		logger:         logger,
		active:         make(map[string]*execution),
	}
}

// Run executes the agent in workDir and blocks until it exits, is stopped,
// times out, or exceeds the output cap. The returned error covers process
// plumbing failures only; agent-reported errors land in the Outcome.
func (r *Runner) Run(ctx context.Context, runID, prompt, workDir string, opts Options) (Outcome, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--dangerously-skip-permissions",
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", opts.MaxTurns))
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = workDir
	setProcGroup(cmd)
	cmd.Cancel = func() error {
		return killTree(cmd.Process.Pid)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{ExitCode: -1}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{ExitCode: -1}, err
	}

	if err := cmd.Start(); err != nil {
		return Outcome{ExitCode: -1}, fmt.Errorf("starting %s: %w", r.binary, err)
	}

	exe := &execution{cancel: cancel, subs: make(map[int]chan string)}
	r.mu.Lock()
	r.active[runID] = exe
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, runID)
		r.mu.Unlock()
		exe.closeSubs()
	}()

	var stdoutBuf, stderrBuf bytes.Buffer
	var total int64
	var totalMu sync.Mutex
	truncated := false

	// Raw byte reads: the agent's stdout is one JSON object of arbitrary
	// length, so line-oriented scanning would choke on it long before the
	// cap. Newline splitting happens only for live subscribers.
	drain := func(rd io.Reader, buf *bytes.Buffer) error {
		var line bytes.Buffer
		chunk := make([]byte, 32*1024)
		for {
			n, err := rd.Read(chunk)
			if n > 0 {
				totalMu.Lock()
				total += int64(n)
				over := total > r.maxOutputBytes
				if over {
					truncated = true
				}
				totalMu.Unlock()

				if over {
					r.logger.Warn("run exceeded output cap, killing", "run", runID, "cap", r.maxOutputBytes)
					cancel()
					return nil
				}
				buf.Write(chunk[:n])

				line.Write(chunk[:n])
				for {
					i := bytes.IndexByte(line.Bytes(), '\n')
					if i < 0 {
						break
					}
					exe.publish(string(line.Next(i + 1)[:i]))
				}
			}
			if err == io.EOF {
				if line.Len() > 0 {
					exe.publish(line.String())
				}
				return nil
			}
			if err != nil {
				return err
			}
		}
	}

	var g errgroup.Group
	g.Go(func() error { return drain(stdout, &stdoutBuf) })
	g.Go(func() error { return drain(stderr, &stderrBuf) })
	drainErr := g.Wait()

	waitErr := cmd.Wait()

	out := Outcome{
		ExitCode:        exitCode(cmd, waitErr),
		TimedOut:        ctx.Err() == context.DeadlineExceeded,
		OutputTruncated: truncated,
		Stderr:          stderrBuf.String(),
	}
	if drainErr != nil {
		r.logger.Warn("reading agent output", "run", runID, "error", drainErr)
	}

	var parsed agentOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdoutBuf.Bytes()), &parsed); err == nil {
		out.Result = parsed.Result
		out.SessionID = parsed.SessionID
		if parsed.StructuredOutput != nil {
			out.Summary = parsed.StructuredOutput.Summary
		}
		if parsed.IsError && waitErr == nil {
			return out, fmt.Errorf("agent reported error: %s", firstLine(parsed.Result))
		}
	} else if waitErr == nil && !truncated {
		return out, fmt.Errorf("parsing agent output: %w", err)
	}

	if waitErr != nil {
		switch {
		case out.TimedOut:
			return out, fmt.Errorf("run timed out after %s", timeout)
		case truncated:
			return out, fmt.Errorf("run killed after exceeding %d byte output cap", r.maxOutputBytes)
		default:
			return out, fmt.Errorf("agent exited: %w", waitErr)
		}
	}
	return out, nil
}

// Stop kills the process tree of a running execution. Unknown run IDs are
// a no-op.
func (r *Runner) Stop(runID string) {
	r.mu.Lock()
	exe := r.active[runID]
	r.mu.Unlock()
	if exe != nil {
		exe.cancel()
	}
}

// SubscribeOutput delivers the live output lines of a running execution.
// Returns nil when the run is not active. Slow subscribers drop lines
// rather than stall the run.
func (r *Runner) SubscribeOutput(runID string) (<-chan string, func()) {
	r.mu.Lock()
	exe := r.active[runID]
	r.mu.Unlock()
	if exe == nil {
		return nil, func() {}
	}

	ch := make(chan string, 256)
	exe.mu.Lock()
	id := exe.nextID
	exe.nextID++
	exe.subs[id] = ch
	exe.mu.Unlock()

	return ch, func() {
		exe.mu.Lock()
		if _, ok := exe.subs[id]; ok {
			delete(exe.subs, id)
			close(ch)
		}
		exe.mu.Unlock()
	}
}

func (e *execution) publish(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

func (e *execution) closeSubs() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func firstLine(s string) string {
	if i := bytes.IndexByte([]byte(s), '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
