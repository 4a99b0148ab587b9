// Package config loads slackclaw's configuration from the environment into
// a single immutable Config value.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// DefaultShellAllowlist is the set of command names the Approval Manager's
// allowlist check permits when SHELL_ALLOWLIST is not set.
var DefaultShellAllowlist = []string{
	"echo", "printf", "pwd", "ls", "cat", "head", "tail", "wc", "grep", "rg",
	"find", "sed", "awk", "cut", "sort", "uniq", "date", "whoami", "uname",
	"env", "true", "false", "cd", "python", "python3", "pip", "pip3",
	"pytest", "node", "npm", "yarn", "pnpm", "go", "cargo", "make", "git",
	"bash", "sh", "zsh",
}

// DefaultAgentResponseInstruction is appended to agent-CLI prompts so the
// final answer renders cleanly as a Slack message.
const DefaultAgentResponseInstruction = "Format the final answer for Slack Markdown. " +
	"Start with a one-line summary, use short bullet lists, and put commands/code in fenced code blocks."

// Config holds every environment-sourced setting slackclaw needs at startup.
// It is loaded once in main and passed down read-only.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"SLACK_APP_TOKEN"`

	CommandChannelID string `envconfig:"COMMAND_CHANNEL_ID" required:"true"`
	ReportChannelID  string `envconfig:"REPORT_CHANNEL_ID" required:"true"`

	ListenerMode             string  `envconfig:"LISTENER_MODE" default:"socket"`
	SocketReadTimeoutSeconds float64 `envconfig:"SOCKET_READ_TIMEOUT_SECONDS" default:"1.0"`
	PollInterval             float64 `envconfig:"POLL_INTERVAL" default:"3.0"`
	PollBatchSize            int     `envconfig:"POLL_BATCH_SIZE" default:"100"`

	TriggerMode   string `envconfig:"TRIGGER_MODE" default:"prefix"`
	TriggerPrefix string `envconfig:"TRIGGER_PREFIX" default:"!do"`
	BotUserID     string `envconfig:"BOT_USER_ID"`

	StateDBPath       string `envconfig:"STATE_DB_PATH" default:"./state.db"`
	ExecTimeoutSeconds int    `envconfig:"EXEC_TIMEOUT_SECONDS" default:"120"`
	WorkerProcesses    int    `envconfig:"WORKER_PROCESSES" default:"1"`
	DryRun             bool   `envconfig:"DRY_RUN" default:"true"`

	ReportInputMaxChars   int `envconfig:"REPORT_INPUT_MAX_CHARS" default:"500"`
	ReportSummaryMaxChars int `envconfig:"REPORT_SUMMARY_MAX_CHARS" default:"1200"`
	ReportDetailsMaxChars int `envconfig:"REPORT_DETAILS_MAX_CHARS" default:"4000"`

	RunMode       string `envconfig:"RUN_MODE" default:"approve"`
	ApprovalMode  string `envconfig:"APPROVAL_MODE" default:"reaction"`
	ApproveReaction string `envconfig:"APPROVE_REACTION" default:"white_check_mark"`
	RejectReaction  string `envconfig:"REJECT_REACTION" default:"x"`

	AgentResponseInstruction string `envconfig:"AGENT_RESPONSE_INSTRUCTION"`
	ShellAllowlistRaw        string `envconfig:"SHELL_ALLOWLIST"`

	AgentWorkdir         string `envconfig:"AGENT_WORKDIR"`
	AttachmentsBaseDir   string `envconfig:"ATTACHMENTS_BASE_DIR" default:"./.slackclaw_attachments"`
	KimiPermissionMode   string `envconfig:"KIMI_PERMISSION_MODE" default:"default"`
	CodexPermissionMode  string `envconfig:"CODEX_PERMISSION_MODE" default:"default"`
	CodexSandboxMode     string `envconfig:"CODEX_SANDBOX_MODE" default:"workspace-write"`
	ClaudePermissionMode string `envconfig:"CLAUDE_PERMISSION_MODE"`

	HealthAddr  string `envconfig:"HEALTH_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	RetentionWindowHours int `envconfig:"RETENTION_WINDOW_HOURS" default:"168"`
}

var allowedTriggerModes = set("prefix", "mention")
var allowedListenerModes = set("poll", "socket")
var allowedApprovalModes = set("none", "reaction")
var allowedRunModes = set("approve", "run")

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// Load reads Config from the environment, applying defaults and the
// cross-field validation spec.md §6 requires, and returns the finished,
// immutable value.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cfg.AgentResponseInstruction == "" {
		cfg.AgentResponseInstruction = DefaultAgentResponseInstruction
	}

	if _, ok := allowedListenerModes[cfg.ListenerMode]; !ok {
		return nil, fmt.Errorf("LISTENER_MODE must be one of poll, socket, got %q", cfg.ListenerMode)
	}
	if _, ok := allowedTriggerModes[cfg.TriggerMode]; !ok {
		return nil, fmt.Errorf("TRIGGER_MODE must be one of prefix, mention, got %q", cfg.TriggerMode)
	}
	if _, ok := allowedRunModes[cfg.RunMode]; !ok {
		return nil, fmt.Errorf("RUN_MODE must be one of approve, run, got %q", cfg.RunMode)
	}
	if _, ok := allowedApprovalModes[cfg.ApprovalMode]; !ok {
		return nil, fmt.Errorf("APPROVAL_MODE must be one of none, reaction, got %q", cfg.ApprovalMode)
	}

	if cfg.RunMode == "run" {
		cfg.ApprovalMode = "none"
	}
	if cfg.ApprovalMode == "reaction" && cfg.ListenerMode != "socket" {
		return nil, fmt.Errorf("APPROVAL_MODE=reaction requires LISTENER_MODE=socket")
	}
	if cfg.ListenerMode == "socket" && cfg.SlackAppToken == "" {
		return nil, fmt.Errorf("SLACK_APP_TOKEN is required when LISTENER_MODE=socket")
	}
	if cfg.SlackBotToken == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if cfg.TriggerMode == "mention" && cfg.BotUserID == "" {
		return nil, fmt.Errorf("BOT_USER_ID is required when TRIGGER_MODE=mention")
	}
	if cfg.PollBatchSize > 200 {
		return nil, fmt.Errorf("POLL_BATCH_SIZE must be <= 200 (Slack API max)")
	}

	cfg.ApproveReaction = strings.Trim(cfg.ApproveReaction, ":")
	cfg.RejectReaction = strings.Trim(cfg.RejectReaction, ":")
	if cfg.ApproveReaction == "" {
		return nil, fmt.Errorf("APPROVE_REACTION cannot be empty")
	}
	if cfg.RejectReaction == "" {
		return nil, fmt.Errorf("REJECT_REACTION cannot be empty")
	}
	if cfg.ApproveReaction == cfg.RejectReaction {
		return nil, fmt.Errorf("APPROVE_REACTION and REJECT_REACTION must be different")
	}

	return &cfg, nil
}

// ShellAllowlist parses SHELL_ALLOWLIST (comma/space separated, lowercased,
// deduplicated) or falls back to DefaultShellAllowlist.
func (c *Config) ShellAllowlist() []string {
	if strings.TrimSpace(c.ShellAllowlistRaw) == "" {
		return append([]string(nil), DefaultShellAllowlist...)
	}
	fields := strings.FieldsFunc(c.ShellAllowlistRaw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
