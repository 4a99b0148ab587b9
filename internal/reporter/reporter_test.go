package reporter

import (
	"strings"
	"testing"

	"github.com/slackclaw/slackclaw/internal/config"
	"github.com/slackclaw/slackclaw/internal/decider"
	"github.com/slackclaw/slackclaw/internal/executor"
	"github.com/stretchr/testify/assert"
)

func TestTrim_UnderCap(t *testing.T) {
	assert.Equal(t, "hello", trim("hello", 10))
}

func TestTrim_EndsWithEllipsisWhenOverCap(t *testing.T) {
	out := trim("0123456789", 7)
	assert.Equal(t, "0123...", out)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Len(t, out, 7)
}

func TestTrim_ExactCap(t *testing.T) {
	assert.Equal(t, "01234", trim("01234", 5))
}

func TestChunkDetails_SingleChunkWhenShort(t *testing.T) {
	chunks := chunkDetails("short text", 2800, 30)
	assert.Equal(t, []string{"short text"}, chunks)
}

func TestChunkDetails_SplitsLongText(t *testing.T) {
	text := strings.Repeat("a", 6000)
	chunks := chunkDetails(text, 2800, 30)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2800)
	assert.Len(t, chunks[1], 2800)
	assert.Len(t, chunks[2], 400)
}

func TestChunkDetails_CapsAtMaxChunks(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := chunkDetails(text, 10, 3)
	assert.Len(t, chunks, 3)
}

func TestComposeText_IncludesAllFields(t *testing.T) {
	r := &Reporter{cfg: &config.Config{
		ReportInputMaxChars:   500,
		ReportSummaryMaxChars: 1200,
		ReportDetailsMaxChars: 4000,
	}}
	task := &decider.TaskSpec{
		TaskID: "abc123", ChannelID: "C1", MessageTS: "1.1", ThreadTS: "1.1", UserID: "U1",
		CommandText: "sh:echo hi",
	}
	result := executor.Result{Status: executor.StatusSucceeded, Summary: "shell command completed", Details: "hi"}
	text := r.composeText(task, result)
	assert.Contains(t, text, "abc123")
	assert.Contains(t, text, "SUCCEEDED")
	assert.Contains(t, text, "input: sh:echo hi")
	assert.Contains(t, text, "summary: shell command completed")
	assert.Contains(t, text, "details: hi")
}

func TestComposeText_FailedStatusUsesXIcon(t *testing.T) {
	r := &Reporter{cfg: &config.Config{ReportInputMaxChars: 500, ReportSummaryMaxChars: 1200, ReportDetailsMaxChars: 4000}}
	task := &decider.TaskSpec{TaskID: "abc", CommandText: "sh:false"}
	result := executor.Result{Status: executor.StatusFailed, Summary: "shell command exited with code 1", Details: ""}
	text := r.composeText(task, result)
	assert.Contains(t, text, ":x:")
	assert.Contains(t, text, "FAILED")
}
