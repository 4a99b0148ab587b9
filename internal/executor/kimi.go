package executor

import (
	"context"
	"strings"

	"github.com/slackclaw/slackclaw/internal/decider"
)

var yoloPermissionModes = map[string]bool{"yolo": true, "auto": true, "yes": true}

func (e *Executor) runKimi(ctx context.Context, task *decider.TaskSpec, imagePaths []string) Result {
	rawPrompt := strings.TrimSpace(strings.TrimPrefix(task.CommandText, "kimi:"))

	threadContext, err := e.threadContextText(task.ChannelID, task.ThreadTS)
	if err != nil {
		return Result{Status: StatusFailed, Summary: "failed to load thread context", Details: err.Error()}
	}
	sessionID, _, err := e.getOrCreateSession(task.ChannelID, task.ThreadTS, "kimi")
	if err != nil {
		return Result{Status: StatusFailed, Summary: "failed to load agent session", Details: err.Error()}
	}

	finalPrompt := assemblePrompt(rawPrompt, threadContext, imagePaths, e.cfg.AgentResponseInstruction)

	args := []string{"--quiet"}
	if dir := e.workDir(); dir != "" {
		args = append(args, "-w", dir)
	}
	if yoloPermissionModes[strings.ToLower(e.cfg.KimiPermissionMode)] {
		args = append(args, "--yolo")
	}
	args = append(args, "-S", sessionID, "-p", finalPrompt)

	stdout, stderr, fail := e.runSubprocess(ctx, "kimi", args, nil)
	if fail != nil {
		return *fail
	}

	if err := e.persistSession(task.ChannelID, task.ThreadTS, "kimi", sessionID); err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("failed to persist kimi session")
	}

	response := joinOutput(stdout, stderr)
	if err := e.recordThreadTurn(task.ChannelID, task.ThreadTS, "kimi", rawPrompt, response); err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("failed to record thread context")
	}

	return Result{Status: StatusSucceeded, Summary: "kimi run completed", Details: response}
}
