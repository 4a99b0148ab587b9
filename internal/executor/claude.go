package executor

import (
	"context"
	"strings"

	"github.com/slackclaw/slackclaw/internal/decider"
)

func (e *Executor) runClaude(ctx context.Context, task *decider.TaskSpec, imagePaths []string) Result {
	rawPrompt := strings.TrimSpace(strings.TrimPrefix(task.CommandText, "claude:"))

	threadContext, err := e.threadContextText(task.ChannelID, task.ThreadTS)
	if err != nil {
		return Result{Status: StatusFailed, Summary: "failed to load thread context", Details: err.Error()}
	}

	finalPrompt := assemblePrompt(rawPrompt, threadContext, imagePaths, e.cfg.AgentResponseInstruction)

	args := []string{"-p"}
	if e.cfg.ClaudePermissionMode != "" {
		args = append(args, "--permission-mode", e.cfg.ClaudePermissionMode)
	}
	if dir := e.workDir(); dir != "" {
		args = append(args, "--add-dir", dir)
	}
	args = append(args, "--", finalPrompt)

	stdout, stderr, fail := e.runSubprocess(ctx, "claude", args, nil)
	if fail != nil {
		return *fail
	}

	response := joinOutput(stdout, stderr)
	if err := e.recordThreadTurn(task.ChannelID, task.ThreadTS, "claude", rawPrompt, response); err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("failed to record thread context")
	}

	return Result{Status: StatusSucceeded, Summary: "claude run completed", Details: response}
}
