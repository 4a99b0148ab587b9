package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"github.com/slackclaw/slackclaw/internal/decider"
)

var bypassCodexModes = map[string]bool{
	"dangerous": true, "bypass": true, "dangerously-bypass-approvals-and-sandbox": true,
}

func codexPermissionFlags(mode string, includeSandbox bool, sandboxMode, cwd string) []string {
	mode = strings.ToLower(mode)
	if bypassCodexModes[mode] {
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	}
	var flags []string
	if mode == "full-auto" {
		flags = append(flags, "--full-auto")
	}
	if includeSandbox {
		flags = append(flags, "--sandbox", sandboxMode)
		if cwd != "" {
			flags = append(flags, "-C", cwd)
		}
	}
	return flags
}

type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Item     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// parseCodexStdout walks Codex's JSON-lines stdout, returning the newest
// thread id seen (if any) and the last agent_message text produced. Lines
// that are not JSON objects are collected separately as a stdout fallback.
func parseCodexStdout(stdout string) (threadID, lastMessage string, plainLines []string) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var evt codexEvent
		if err := json.Unmarshal([]byte(trimmed), &evt); err != nil {
			plainLines = append(plainLines, line)
			continue
		}
		switch evt.Type {
		case "thread.started":
			if evt.ThreadID != "" {
				threadID = evt.ThreadID
			}
		case "item.completed":
			if evt.Item.Type == "agent_message" && evt.Item.Text != "" {
				lastMessage = evt.Item.Text
			}
		}
	}
	return threadID, lastMessage, plainLines
}

// filterCodexStderr drops the known-benign "state db missing rollout path
// for thread" diagnostic Codex emits on fresh sessions, keeping the rest.
func filterCodexStderr(stderr string) string {
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.Contains(l, "state db missing rollout path for thread") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (e *Executor) runCodex(ctx context.Context, task *decider.TaskSpec, imagePaths []string) Result {
	rawPrompt := strings.TrimSpace(strings.TrimPrefix(task.CommandText, "codex:"))

	threadContext, err := e.threadContextText(task.ChannelID, task.ThreadTS)
	if err != nil {
		return Result{Status: StatusFailed, Summary: "failed to load thread context", Details: err.Error()}
	}
	existingSession, resuming, err := e.getOrCreateSession(task.ChannelID, task.ThreadTS, "codex")
	if err != nil {
		return Result{Status: StatusFailed, Summary: "failed to load agent session", Details: err.Error()}
	}

	finalPrompt := assemblePrompt(rawPrompt, threadContext, imagePaths, e.cfg.AgentResponseInstruction)
	cwd := e.workDir()
	mode := e.cfg.CodexPermissionMode

	var args []string
	if !resuming {
		args = append(args, "exec")
		args = append(args, codexPermissionFlags(mode, true, e.cfg.CodexSandboxMode, cwd)...)
		args = append(args, "--skip-git-repo-check", "--json", finalPrompt)
	} else {
		args = append(args, "exec", "resume")
		args = append(args, codexPermissionFlags(mode, false, "", "")...)
		args = append(args, "--skip-git-repo-check", "--json", existingSession, finalPrompt)
	}

	stdout, stderr, fail := e.runSubprocess(ctx, "codex", args, nil)
	if fail != nil {
		return *fail
	}

	threadID, lastMessage, plainLines := parseCodexStdout(stdout)
	filteredStderr := filterCodexStderr(stderr)

	response := lastMessage
	if response == "" {
		response = strings.TrimSpace(strings.Join(plainLines, "\n"))
	}
	if response == "" {
		response = filteredStderr
	}
	if response == "" {
		response = "<no output>"
	}

	sessionID := existingSession
	if threadID != "" {
		sessionID = threadID
	}
	if err := e.persistSession(task.ChannelID, task.ThreadTS, "codex", sessionID); err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("failed to persist codex session")
	}

	if err := e.recordThreadTurn(task.ChannelID, task.ThreadTS, "codex", rawPrompt, response); err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("failed to record thread context")
	}

	return Result{Status: StatusSucceeded, Summary: "codex run completed", Details: response}
}
