package decider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func prefixConfig() Config {
	return Config{TriggerMode: "prefix", TriggerPrefix: "!do "}
}

func TestDecide_SubtypeIgnored(t *testing.T) {
	d := Decide(prefixConfig(), Message{Text: "!do ls", Subtype: "channel_join"})
	assert.False(t, d.ShouldRun)
	assert.Equal(t, "subtype_ignored", d.Reason)
}

func TestDecide_EmptyText(t *testing.T) {
	d := Decide(prefixConfig(), Message{Text: "   "})
	assert.False(t, d.ShouldRun)
	assert.Equal(t, "empty_text", d.Reason)
}

func TestDecide_NoTrigger(t *testing.T) {
	d := Decide(prefixConfig(), Message{Text: "just chatting"})
	assert.False(t, d.ShouldRun)
	assert.Equal(t, "no_trigger", d.Reason)
}

func TestDecide_PrefixTrigger(t *testing.T) {
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "!do ls -la"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "ls -la", d.Task.CommandText)
	assert.Equal(t, "global", d.Task.LockKey)
	assert.Equal(t, "noop", d.Task.Source)
}

func TestDecide_MentionTrigger(t *testing.T) {
	cfg := Config{TriggerMode: "mention", BotUserID: "U999"}
	d := Decide(cfg, Message{ChannelID: "C1", TS: "1.1", Text: "<@U999> ls -la"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "ls -la", d.Task.CommandText)
}

func TestDecide_MentionTrigger_NoMention(t *testing.T) {
	cfg := Config{TriggerMode: "mention", BotUserID: "U999"}
	d := Decide(cfg, Message{Text: "hello world"})
	assert.False(t, d.ShouldRun)
}

func TestDecide_ShortcutBypassesTrigger(t *testing.T) {
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "shell pwd"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "shell", d.Task.Source)
	assert.Equal(t, "sh:pwd", d.Task.CommandText)
}

func TestDecide_ShortcutCaseInsensitive(t *testing.T) {
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "SHELL pwd"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "shell", d.Task.Source)
}

func TestDecide_KimiCodexClaudeShortcuts(t *testing.T) {
	for _, tc := range []struct {
		text, source, commandText string
	}{
		{"kimi summarize this repo", "kimi", "kimi:summarize this repo"},
		{"codex fix the bug", "codex", "codex:fix the bug"},
		{"claude review this PR", "claude", "claude:review this PR"},
	} {
		d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: tc.text})
		assert.True(t, d.ShouldRun, tc.text)
		assert.Equal(t, tc.source, d.Task.Source, tc.text)
		assert.Equal(t, tc.commandText, d.Task.CommandText, tc.text)
	}
}

func TestDecide_LockPrefix(t *testing.T) {
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "!do lock:myproj git pull"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "lock:myproj", d.Task.LockKey)
	assert.Equal(t, "git pull", d.Task.CommandText)
}

func TestDecide_ShellCdUsesDirAsLockKey(t *testing.T) {
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "shell cd /srv/app"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "path:/srv/app", d.Task.LockKey)
}

func TestDecide_EmptyAfterTrigger(t *testing.T) {
	d := Decide(Config{TriggerMode: "prefix", TriggerPrefix: "!do"}, Message{Text: "!do       "})
	assert.False(t, d.ShouldRun)
	assert.Equal(t, "empty_after_trigger", d.Reason)
}

func TestDecide_LockPrefixWithNoRemainderIsLiteralCommand(t *testing.T) {
	// The lock-prefix regex requires a separator and remainder; a bare
	// "lock:name" with nothing after it does not match, so the whole
	// string is kept as a literal (no-op) command under the global lock.
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "!do lock:myproj"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "global", d.Task.LockKey)
	assert.Equal(t, "lock:myproj", d.Task.CommandText)
	assert.Equal(t, "noop", d.Task.Source)
}

func TestDecide_ThreadTSFallsBackToMessageTS(t *testing.T) {
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "!do ls"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "1.1", d.Task.ThreadTS)
}

func TestDecide_ThreadTSKeepsExplicitThread(t *testing.T) {
	d := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.2", ThreadTS: "1.1", Text: "!do ls"})
	assert.True(t, d.ShouldRun)
	assert.Equal(t, "1.1", d.Task.ThreadTS)
}

func TestDecide_TaskIDUsesRawTextNotCommandText(t *testing.T) {
	d1 := Decide(prefixConfig(), Message{ChannelID: "C1", TS: "1.1", Text: "!do lock:x ls"})
	d2 := Decide(Config{TriggerMode: "prefix", TriggerPrefix: ""}, Message{ChannelID: "C1", TS: "1.1", Text: "!do lock:x ls"})
	// Same raw text + channel + ts always produces the same task id regardless
	// of how the command text is subsequently parsed.
	assert.Equal(t, d1.Task.TaskID, d2.Task.TaskID)
}
