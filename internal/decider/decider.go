// Package decider turns one inbound Slack message into a run/skip decision
// and, when it should run, a TaskSpec ready for the queue. It is a pure
// function: no I/O, no clock, no randomness — the same message always
// yields the same Decision.
package decider

import (
	"regexp"
	"strings"

	"github.com/slackclaw/slackclaw/internal/clock"
)

// Message is the minimal shape the Decider reads from a Slack message event.
type Message struct {
	ChannelID string
	UserID    string
	Text      string
	TS        string
	ThreadTS  string
	Subtype   string
}

// TaskSpec is what the Decider hands to the Queue when a message should run.
type TaskSpec struct {
	TaskID      string
	ChannelID   string
	MessageTS   string
	ThreadTS    string
	UserID      string
	RawText     string
	CommandText string
	LockKey     string
	Source      string // "shell", "kimi", "codex", "claude", or "noop"
}

// Decision is the Decider's verdict on one message.
type Decision struct {
	ShouldRun bool
	Reason    string
	Task      *TaskSpec
}

// Config is the subset of slackclaw's configuration the Decider consults.
type Config struct {
	TriggerMode   string // "prefix" or "mention"
	TriggerPrefix string
	BotUserID     string
}

var (
	simpleShellRe  = regexp.MustCompile(`(?i)^shell\s+(.+)$`)
	simpleKimiRe   = regexp.MustCompile(`(?i)^kimi\s+(.+)$`)
	simpleCodexRe  = regexp.MustCompile(`(?i)^codex\s+(.+)$`)
	simpleClaudeRe = regexp.MustCompile(`(?i)^claude\s+(.+)$`)

	lockPrefixRe = regexp.MustCompile(`^lock:(\S+)\s+(.*)$`)
	shellCdRe    = regexp.MustCompile(`(?i)^\s*sh:\s*cd\s+([^\s;&]+)`)
)

const defaultLockKey = "global"

// Decide evaluates one message against cfg and returns whether — and as
// what — it should become a task.
func Decide(cfg Config, msg Message) Decision {
	if msg.Subtype != "" {
		return Decision{Reason: "subtype_ignored"}
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Decision{Reason: "empty_text"}
	}

	commandText, matched := matchShortcut(text)
	if !matched {
		stripped, ok := applyTrigger(cfg, text)
		if !ok {
			return Decision{Reason: "no_trigger"}
		}
		commandText = strings.TrimSpace(stripped)
		if commandText == "" {
			return Decision{Reason: "empty_after_trigger"}
		}
	}

	lockKey, commandText := extractLockKey(commandText)
	if strings.TrimSpace(commandText) == "" {
		return Decision{Reason: "empty_after_lock"}
	}

	taskID := clock.TaskID(msg.ChannelID, msg.TS, msg.Text)

	threadTS := msg.ThreadTS
	if threadTS == "" {
		threadTS = msg.TS
	}

	return Decision{
		ShouldRun: true,
		Reason:    "ok",
		Task: &TaskSpec{
			TaskID:      taskID,
			ChannelID:   msg.ChannelID,
			MessageTS:   msg.TS,
			ThreadTS:    threadTS,
			UserID:      msg.UserID,
			RawText:     msg.Text,
			CommandText: commandText,
			LockKey:     lockKey,
			Source:      sourceOf(commandText),
		},
	}
}

// matchShortcut recognizes the "shell"/"kimi"/"codex"/"claude" leading-word
// shortcut forms and rewrites them into the colon-prefixed command text the
// Executor dispatches on. An empty remainder falls through to the
// configured trigger instead of matching here.
func matchShortcut(text string) (commandText string, matched bool) {
	if m := simpleShellRe.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return "sh:" + strings.TrimSpace(m[1]), true
	}
	if m := simpleKimiRe.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return "kimi:" + strings.TrimSpace(m[1]), true
	}
	if m := simpleCodexRe.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return "codex:" + strings.TrimSpace(m[1]), true
	}
	if m := simpleClaudeRe.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return "claude:" + strings.TrimSpace(m[1]), true
	}
	return "", false
}

// sourceOf reports which executor a finished command_text dispatches to,
// for logging only; the Executor itself re-derives dispatch from the prefix.
func sourceOf(commandText string) string {
	switch {
	case strings.HasPrefix(commandText, "sh:"):
		return "shell"
	case strings.HasPrefix(commandText, "kimi:"):
		return "kimi"
	case strings.HasPrefix(commandText, "codex:"):
		return "codex"
	case strings.HasPrefix(commandText, "claude:"):
		return "claude"
	default:
		return "noop"
	}
}

// applyTrigger checks the configured trigger (prefix or mention) and, if it
// matches, returns the text with the trigger stripped.
func applyTrigger(cfg Config, text string) (string, bool) {
	switch cfg.TriggerMode {
	case "mention":
		mention := "<@" + cfg.BotUserID + ">"
		if !strings.Contains(text, mention) {
			return "", false
		}
		return strings.TrimSpace(strings.Replace(text, mention, "", 1)), true
	default: // "prefix"
		if !strings.HasPrefix(text, cfg.TriggerPrefix) {
			return "", false
		}
		return text[len(cfg.TriggerPrefix):], true
	}
}

// extractLockKey pulls an explicit "lock:<key> <rest>" prefix out of
// commandText, or — for a bare "sh: cd <dir>" shortcut — uses the target
// directory as the lock key, so that directory-scoped shell state does not
// interleave with other tasks. Everything else serializes on "global".
func extractLockKey(commandText string) (lockKey, rest string) {
	if m := lockPrefixRe.FindStringSubmatch(commandText); m != nil && strings.TrimSpace(m[1]) != "" {
		return "lock:" + strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := shellCdRe.FindStringSubmatch(commandText); m != nil && strings.TrimSpace(m[1]) != "" {
		return "path:" + strings.TrimSpace(m[1]), commandText
	}
	return defaultLockKey, commandText
}
