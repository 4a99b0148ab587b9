package orchestrator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slackclaw/slackclaw/internal/approval"
	"github.com/slackclaw/slackclaw/internal/attachments"
	"github.com/slackclaw/slackclaw/internal/clock"
	"github.com/slackclaw/slackclaw/internal/config"
	"github.com/slackclaw/slackclaw/internal/executor"
	"github.com/slackclaw/slackclaw/internal/metrics"
	"github.com/slackclaw/slackclaw/internal/queue"
	"github.com/slackclaw/slackclaw/internal/reporter"
	"github.com/slackclaw/slackclaw/internal/slackio"
	"github.com/slackclaw/slackclaw/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a fresh on-disk sqlite store, mirroring the pattern
// used across the other packages' tests.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := "/tmp/slackclaw-orchestrator-test-" + time.Now().Format("20060102150405.000000000") + ".db"
	st, err := store.New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		os.Remove(dbPath)
	})
	return st
}

// newTestOrchestrator wires every collaborator with a dry-run executor and
// a Poster whose SafeClient allowlists no channels at all, so every Post
// call fails fast and locally (SafeClient's own allowlist guard) instead of
// reaching the network — exercising the real PostPlan/Report code paths
// without ever making an HTTP request.
func newTestOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *store.Store, *queue.Queue) {
	t.Helper()
	st := newTestStore(t)

	client := slackio.NewSafeClient("x", nil, zerolog.Nop())
	poster := slackio.NewPoster(client)

	var approvalMgr *approval.Manager
	if cfg.ApprovalMode != "none" {
		approvalMgr = approval.New(st, poster, cfg.ApproveReaction, cfg.RejectReaction, zerolog.Nop())
	}

	q := queue.New()
	attachMat := attachments.New(t.TempDir(), "x")
	exec := executor.New(cfg, st, clock.Real{}, zerolog.Nop())
	rep := reporter.New(cfg, st, poster, zerolog.Nop())
	m := metrics.New()

	o := New(cfg, st, nil, attachMat, approvalMgr, q, exec, rep, m, zerolog.Nop())
	return o, st, q
}

func baseConfig() *config.Config {
	return &config.Config{
		TriggerMode:           "prefix",
		TriggerPrefix:         "!do",
		ApprovalMode:          "none",
		ApproveReaction:       "white_check_mark",
		RejectReaction:        "x",
		DryRun:                true,
		WorkerProcesses:       1,
		ExecTimeoutSeconds:    5,
		ReportInputMaxChars:   500,
		ReportSummaryMaxChars: 1200,
		ReportDetailsMaxChars: 4000,
	}
}

func TestHandleMessage_NoApproval_CreatesAndEnqueuesTask(t *testing.T) {
	cfg := baseConfig()
	o, st, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do shell echo hi", TS: "100.1"}
	created, wentPending := o.handleMessage(msg)

	assert.True(t, created)
	assert.True(t, wentPending)
	assert.Equal(t, 1, q.Len())

	id, ok := q.Dequeue()
	require.True(t, ok)
	task, err := st.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, task.Status)
}

func TestHandleMessage_DedupsRepeatedMessage(t *testing.T) {
	cfg := baseConfig()
	o, _, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do shell echo hi", TS: "100.1"}
	created1, _ := o.handleMessage(msg)
	created2, _ := o.handleMessage(msg)

	assert.True(t, created1)
	assert.False(t, created2)
	assert.Equal(t, 1, q.Len())
}

func TestHandleMessage_NonTriggeredMessageIsSkipped(t *testing.T) {
	cfg := baseConfig()
	o, _, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "just chatting", TS: "100.1"}
	created, wentPending := o.handleMessage(msg)

	assert.False(t, created)
	assert.False(t, wentPending)
	assert.Equal(t, 0, q.Len())
}

func TestHandleMessage_ReactionModeGatesAgentCommand(t *testing.T) {
	cfg := baseConfig()
	cfg.ApprovalMode = "reaction"
	o, st, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do claude fix the bug", TS: "100.1"}
	created, wentPending := o.handleMessage(msg)

	assert.True(t, created)
	assert.False(t, wentPending)
	assert.Equal(t, 0, q.Len())

	taskID := clock.TaskID("C1", "100.1", msg.Text)
	task, err := st.GetTask(taskID)
	require.NoError(t, err)
	// PostPlan's Post() call was blocked by the SafeClient's empty channel
	// allowlist, so the task could not stay waiting on a plan no one saw —
	// it must have been failed out instead.
	assert.Equal(t, store.StatusFailed, task.Status)
}

func TestHandleMessage_ReactionModeAllowlistedShellSkipsApproval(t *testing.T) {
	cfg := baseConfig()
	cfg.ApprovalMode = "reaction"
	o, st, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do sh:echo hi", TS: "100.1"}
	created, wentPending := o.handleMessage(msg)

	assert.True(t, created)
	assert.True(t, wentPending)
	assert.Equal(t, 1, q.Len())

	taskID := clock.TaskID("C1", "100.1", msg.Text)
	task, err := st.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, task.Status)
}

func TestHandleMessage_ReactionModeNonAllowlistedShellNeedsApproval(t *testing.T) {
	cfg := baseConfig()
	cfg.ApprovalMode = "reaction"
	cfg.ShellAllowlistRaw = "echo"
	o, st, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do sh:rm -rf /tmp/x", TS: "100.1"}
	created, wentPending := o.handleMessage(msg)

	assert.True(t, created)
	assert.False(t, wentPending)
	assert.Equal(t, 0, q.Len())

	taskID := clock.TaskID("C1", "100.1", msg.Text)
	task, err := st.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, task.Status)
}

func TestDrainQueue_RunsDryRunTaskToCompletion(t *testing.T) {
	cfg := baseConfig()
	o, st, _ := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do shell echo hi", TS: "100.1"}
	o.handleMessage(msg)

	dispatched := o.drainQueue(context.Background())
	assert.Equal(t, 1, dispatched)

	taskID := clock.TaskID("C1", "100.1", msg.Text)
	task, err := st.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, task.Status)
	assert.True(t, task.Summary.Valid)

	held, err := st.AcquireLock(task.LockKey, "someone-else")
	require.NoError(t, err)
	assert.True(t, held, "lock must be released once the task finishes")
}

func TestDrainQueue_DefersTaskWhenLockIsBusy(t *testing.T) {
	cfg := baseConfig()
	o, st, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do lock:shared shell echo hi", TS: "100.1"}
	o.handleMessage(msg)
	taskID := clock.TaskID("C1", "100.1", msg.Text)

	holderHeld, err := st.AcquireLock("lock:shared", "holder-task")
	require.NoError(t, err)
	require.True(t, holderHeld)

	dispatched := o.drainQueue(context.Background())
	assert.Equal(t, 0, dispatched)

	task, err := st.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, task.Status)
	assert.Equal(t, 1, q.Len(), "deferred task must be requeued for the next cycle")
}

func TestHandleReaction_ApprovedTaskIsEnqueued(t *testing.T) {
	cfg := baseConfig()
	cfg.ApprovalMode = "reaction"
	o, st, q := newTestOrchestrator(t, cfg)

	msg := slackio.Message{ChannelID: "C1", UserID: "U1", Text: "!do claude fix the bug", TS: "200.1"}
	require.NoError(t, st.CreateTaskWithStatus(&store.Task{
		ID: "t-approve", ChannelID: "C1", MessageTS: "200.1", UserID: "U1",
		RawText: msg.Text, CommandText: "claude:fix the bug", LockKey: "global", Source: "claude",
	}, store.StatusWaitingApproval))
	require.NoError(t, st.CreateApproval("t-approve", "C1", "200.1", "500.1"))

	canceled := o.handleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "white_check_mark", ItemTS: "500.1", UserID: "U2"})
	assert.False(t, canceled)
	assert.Equal(t, 1, q.Len())

	task, err := st.GetTask("t-approve")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, task.Status)
}

func TestHandleReaction_RejectedTaskIsCanceled(t *testing.T) {
	cfg := baseConfig()
	cfg.ApprovalMode = "reaction"
	o, st, q := newTestOrchestrator(t, cfg)

	require.NoError(t, st.CreateTaskWithStatus(&store.Task{
		ID: "t-reject", ChannelID: "C1", MessageTS: "200.2", UserID: "U1",
		RawText: "!do claude do it", CommandText: "claude:do it", LockKey: "global", Source: "claude",
	}, store.StatusWaitingApproval))
	require.NoError(t, st.CreateApproval("t-reject", "C1", "200.2", "500.2"))

	canceled := o.handleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "x", ItemTS: "500.2", UserID: "U2"})
	assert.True(t, canceled)
	assert.Equal(t, 0, q.Len())

	task, err := st.GetTask("t-reject")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCanceled, task.Status)
}

func TestRecoverAndRehydrate_AbortsRunningAndRehydratesPending(t *testing.T) {
	cfg := baseConfig()
	o, st, q := newTestOrchestrator(t, cfg)

	require.NoError(t, st.CreateTaskWithStatus(&store.Task{
		ID: "t-running", ChannelID: "C1", MessageTS: "1.1", RawText: "x", CommandText: "sh:echo hi", LockKey: "global", Source: "shell",
	}, store.StatusRunning))
	require.NoError(t, st.CreateTaskWithStatus(&store.Task{
		ID: "t-pending", ChannelID: "C1", MessageTS: "1.2", RawText: "x", CommandText: "sh:echo hi", LockKey: "global", Source: "shell",
	}, store.StatusPending))

	require.NoError(t, o.RecoverAndRehydrate())

	running, err := st.GetTask("t-running")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAbortedOnRestart, running.Status)

	assert.Equal(t, 1, q.Len())
	id, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "t-pending", id)
}
