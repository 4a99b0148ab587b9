// Package executor runs a decided task's command text as a local
// subprocess — a raw shell command or one of the three coding-agent
// CLIs — and reports a normalized result back to the orchestrator.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slackclaw/slackclaw/internal/clock"
	"github.com/slackclaw/slackclaw/internal/config"
	"github.com/slackclaw/slackclaw/internal/decider"
	"github.com/slackclaw/slackclaw/internal/store"
)

// Status values an execution can finish in.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Result is the normalized outcome of one execution.
type Result struct {
	Status  string
	Summary string
	Details string
}

// Executor dispatches a TaskSpec's command text to the right subprocess.
type Executor struct {
	cfg    *config.Config
	store  *store.Store
	clock  clock.Clock
	logger zerolog.Logger
}

// New builds an Executor.
func New(cfg *config.Config, st *store.Store, clk clock.Clock, logger zerolog.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		store:  st,
		clock:  clk,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs one task and returns its result. It never returns an error —
// execution failures are encoded in the returned Result so the caller can
// always finish the task and report it.
func (e *Executor) Execute(ctx context.Context, task *decider.TaskSpec, imagePaths []string) Result {
	if e.cfg.DryRun {
		return Result{
			Status:  StatusSucceeded,
			Summary: fmt.Sprintf("dry-run only, no command executed for %s", task.TaskID),
			Details: fmt.Sprintf("planned command: %s", task.CommandText),
		}
	}

	switch {
	case strings.HasPrefix(task.CommandText, "sh:"):
		return e.runShell(ctx, task, imagePaths)
	case strings.HasPrefix(task.CommandText, "kimi:"):
		return e.runKimi(ctx, task, imagePaths)
	case strings.HasPrefix(task.CommandText, "codex:"):
		return e.runCodex(ctx, task, imagePaths)
	case strings.HasPrefix(task.CommandText, "claude:"):
		return e.runClaude(ctx, task, imagePaths)
	default:
		return Result{
			Status:  StatusSucceeded,
			Summary: fmt.Sprintf("no-op executor completed for %s", task.TaskID),
			Details: fmt.Sprintf("received command text: %s", task.CommandText),
		}
	}
}

func (e *Executor) timeout() time.Duration {
	return time.Duration(e.cfg.ExecTimeoutSeconds) * time.Second
}

func (e *Executor) workDir() string {
	if e.cfg.AgentWorkdir == "" {
		return ""
	}
	return e.cfg.AgentWorkdir
}

func joinOutput(stdout, stderr string) string {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if stderr != "" {
		parts = append(parts, stderr)
	}
	if len(parts) == 0 {
		return "<no output>"
	}
	return strings.Join(parts, "\n")
}

// runSubprocess runs name with args under a wall-clock timeout, optionally
// with extra environment variables, and returns raw stdout/stderr plus a
// Result populated with the generic timeout/exit-code/OS-error outcomes.
// Callers that need custom success handling (such as Codex JSON parsing)
// inspect the returned stdout/stderr and Result themselves.
func (e *Executor) runSubprocess(ctx context.Context, name string, args []string, extraEnv []string) (stdout, stderr string, result *Result) {
	timeout := e.timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	if dir := e.workDir(); dir != "" {
		cmd.Dir = dir
	}
	if len(extraEnv) > 0 {
		cmd.Env = append(cmd.Environ(), extraEnv...)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return stdout, stderr, &Result{
			Status:  StatusFailed,
			Summary: fmt.Sprintf("shell command timed out after %ds", int(timeout.Seconds())),
			Details: joinOutput(stdout, stderr),
		}
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout, stderr, &Result{
				Status:  StatusFailed,
				Summary: fmt.Sprintf("shell command exited with code %d", exitErr.ExitCode()),
				Details: joinOutput(stdout, stderr),
			}
		}
		return stdout, stderr, &Result{
			Status:  StatusFailed,
			Summary: fmt.Sprintf("shell execution failed: %v", err),
			Details: joinOutput(stdout, stderr),
		}
	}
	return stdout, stderr, nil
}

func (e *Executor) runShell(ctx context.Context, task *decider.TaskSpec, imagePaths []string) Result {
	shellCmd := strings.TrimSpace(strings.TrimPrefix(task.CommandText, "sh:"))
	if shellCmd == "" {
		return Result{Status: StatusFailed, Summary: "invalid shell command: empty payload", Details: "use format: sh:<command>"}
	}

	var extraEnv []string
	if len(imagePaths) > 0 {
		extraEnv = append(extraEnv,
			"SLACKCLAW_IMAGE_PATHS="+strings.Join(imagePaths, "\n"),
			fmt.Sprintf("SLACKCLAW_IMAGE_COUNT=%d", len(imagePaths)),
		)
	}

	stdout, stderr, fail := e.runSubprocess(ctx, "/bin/sh", []string{"-c", shellCmd}, extraEnv)
	if fail != nil {
		return *fail
	}
	return Result{Status: StatusSucceeded, Summary: "shell command completed", Details: joinOutput(stdout, stderr)}
}
