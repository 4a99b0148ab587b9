// Package orchestrator drives the cycle loop that wires every other
// component together: listen, decide, gate behind approval, dispatch to
// the Executor, report, and recover from a crash on the next startup.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slackclaw/slackclaw/internal/approval"
	"github.com/slackclaw/slackclaw/internal/attachments"
	"github.com/slackclaw/slackclaw/internal/config"
	"github.com/slackclaw/slackclaw/internal/decider"
	"github.com/slackclaw/slackclaw/internal/executor"
	"github.com/slackclaw/slackclaw/internal/metrics"
	"github.com/slackclaw/slackclaw/internal/queue"
	"github.com/slackclaw/slackclaw/internal/reporter"
	"github.com/slackclaw/slackclaw/internal/slackio"
	"github.com/slackclaw/slackclaw/internal/slogevent"
	"github.com/slackclaw/slackclaw/internal/store"
)

// Orchestrator runs the listen → decide → approve → enqueue → dispatch →
// finish cycle and owns the worker pool that executes tasks.
type Orchestrator struct {
	cfg         *config.Config
	store       *store.Store
	listener    slackio.Listener
	deciderCfg  decider.Config
	attachments *attachments.Materializer
	approval    *approval.Manager
	queue       *queue.Queue
	executor    *executor.Executor
	reporter    *reporter.Reporter
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	threadLocks sync.Map // string(channel+"\x00"+threadTS) -> *sync.Mutex
	sem         chan struct{}
}

// New builds an Orchestrator. approvalMgr is nil when ApprovalMode is "none".
func New(
	cfg *config.Config,
	st *store.Store,
	listener slackio.Listener,
	attachMat *attachments.Materializer,
	approvalMgr *approval.Manager,
	q *queue.Queue,
	exec *executor.Executor,
	rep *reporter.Reporter,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	workers := cfg.WorkerProcesses
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		cfg:         cfg,
		store:       st,
		listener:    listener,
		deciderCfg:  decider.Config{TriggerMode: cfg.TriggerMode, TriggerPrefix: cfg.TriggerPrefix, BotUserID: cfg.BotUserID},
		attachments: attachMat,
		approval:    approvalMgr,
		queue:       q,
		executor:    exec,
		reporter:    rep,
		metrics:     m,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		sem:         make(chan struct{}, workers),
	}
}

// RecoverAndRehydrate performs startup crash recovery: every task still
// StatusRunning could not have survived the restart, so it is rewritten to
// StatusAbortedOnRestart; every StatusPending task is re-enqueued in memory
// (Open Question 1: rehydrate).
func (o *Orchestrator) RecoverAndRehydrate() error {
	aborted, err := o.store.AbortRunningTasks()
	if err != nil {
		return err
	}
	if aborted > 0 {
		o.logger.Info().Int64("count", aborted).Msg("aborted running tasks from previous run")
	}

	pending, err := o.store.ListPendingTasks()
	if err != nil {
		return err
	}
	for _, t := range pending {
		o.queue.Enqueue(t.ID)
	}
	if len(pending) > 0 {
		o.logger.Info().Int("count", len(pending)).Msg("rehydrated pending tasks into queue")
	}
	return nil
}

// Run drives cycles until ctx is canceled (SIGINT/SIGTERM upstream) or,
// when once is true, after exactly one cycle.
func (o *Orchestrator) Run(ctx context.Context, once bool) error {
	for {
		if err := o.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			o.logger.Error().Err(err).Str("event", slogevent.ListenError).Msg("listen error")
			slogevent.Emit(o.logger, slogevent.ListenError, map[string]any{"error": err.Error()})
		}
		if once {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// RunCycle executes one full iteration: listen, intake, resolve reactions,
// drain the queue, and emit cycle_finished.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := time.Now()

	batch, err := o.listener.Poll(ctx)
	if err != nil && len(batch.Messages) == 0 && len(batch.Reactions) == 0 {
		return err
	}

	var tasksCreated, tasksApproved, tasksCanceled int

	for _, msg := range batch.Messages {
		created, approved := o.handleMessage(msg)
		if created {
			tasksCreated++
		}
		if approved {
			tasksApproved++
		}
	}

	if o.approval != nil {
		for _, r := range batch.Reactions {
			canceled := o.handleReaction(r)
			if canceled {
				tasksCanceled++
			}
		}
	}

	o.persistPollCheckpoint()

	dispatched := o.drainQueue(ctx)

	o.metrics.SetQueueDepth(float64(o.queue.Len()))
	o.metrics.RecordCycle()
	slogevent.Emit(o.logger, slogevent.CycleFinished, map[string]any{
		"tasks_created":    tasksCreated,
		"tasks_approved":   tasksApproved,
		"tasks_canceled":   tasksCanceled,
		"tasks_dispatched": dispatched,
		"queue_depth":      o.queue.Len(),
		"elapsed_ms":       time.Since(start).Milliseconds(),
	})

	return nil
}

// pollCheckpointer is implemented by PollListener so the orchestrator can
// persist its cursor without the Listener interface needing to know about
// checkpoints at all — socket mode simply doesn't satisfy it.
type pollCheckpointer interface {
	Checkpoint() string
}

const pollCheckpointName = "poll_cursor"

func (o *Orchestrator) persistPollCheckpoint() {
	cp, ok := o.listener.(pollCheckpointer)
	if !ok {
		return
	}
	value := cp.Checkpoint()
	if value == "" {
		return
	}
	if err := o.store.SetCheckpoint(pollCheckpointName, value); err != nil {
		o.logger.Error().Err(err).Msg("failed to persist poll checkpoint")
	}
}

// handleMessage runs one inbound message through dedup, decision, attachment
// materialization, and the approval gate. Returns whether a task row was
// created and whether it went straight to pending (as opposed to waiting
// for approval).
func (o *Orchestrator) handleMessage(msg slackio.Message) (created bool, wentPending bool) {
	d := decider.Decide(o.deciderCfg, decider.Message{
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		Text:      msg.Text,
		TS:        msg.TS,
		ThreadTS:  msg.ThreadTS,
		Subtype:   msg.Subtype,
	})
	if !d.ShouldRun {
		return false, false
	}
	spec := d.Task

	first, err := o.store.MarkMessageProcessed(spec.ChannelID, spec.MessageTS, spec.TaskID)
	if err != nil {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to mark message processed")
		return false, false
	}
	if !first {
		return false, false
	}

	if _, err := o.store.GetTask(spec.TaskID); err == nil {
		return false, false // task already exists, e.g. replayed history
	} else if !errors.Is(err, sql.ErrNoRows) {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to check task existence")
		return false, false
	}

	var imagePathsJoined string
	if len(msg.Files) > 0 {
		paths, err := o.attachments.Materialize(spec.TaskID, convertFiles(msg.Files))
		if err != nil {
			o.failBeforeDispatch(spec, "failed to prepare attachments", err.Error())
			slogevent.Emit(o.logger, slogevent.TaskImagePrepareFailed, map[string]any{"task_id": spec.TaskID, "error": err.Error()})
			return true, false
		}
		if len(paths) > 0 {
			imagePathsJoined = strings.Join(paths, "\n")
			slogevent.Emit(o.logger, slogevent.TaskImagesPrepared, map[string]any{"task_id": spec.TaskID, "count": len(paths)})
		}
	}

	t := &store.Task{
		ID: spec.TaskID, ChannelID: spec.ChannelID, MessageTS: spec.MessageTS,
		ThreadTS: spec.ThreadTS, UserID: spec.UserID, RawText: spec.RawText,
		CommandText: spec.CommandText, LockKey: spec.LockKey, Source: spec.Source,
		ImagePaths: imagePathsJoined,
	}

	if o.approval == nil {
		if err := o.store.CreateTask(t); err != nil {
			o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to create task")
			return false, false
		}
		o.queue.Enqueue(spec.TaskID)
		return true, true
	}

	needsApproval, reason := o.needsApproval(spec)
	if !needsApproval {
		if err := o.store.CreateTask(t); err != nil {
			o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to create task")
			return false, false
		}
		o.queue.Enqueue(spec.TaskID)
		return true, true
	}

	if err := o.store.CreateTaskWithStatus(t, store.StatusWaitingApproval); err != nil {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to create waiting-approval task")
		return false, false
	}
	if err := o.approval.PostPlan(spec.TaskID, spec.ChannelID, spec.MessageTS, spec.ThreadTS, spec.CommandText, spec.LockKey); err != nil {
		slogevent.Emit(o.logger, slogevent.ApprovalRequestFailed, map[string]any{"task_id": spec.TaskID, "error": err.Error(), "reason": reason})
		o.failWaitingApproval(spec, "failed to post approval plan", err.Error())
		return true, false
	}
	slogevent.Emit(o.logger, slogevent.TaskWaitingApproval, map[string]any{"task_id": spec.TaskID, "reason": reason})
	return true, false
}

// needsApproval implements spec.md §4.6's gate: reaction mode always gates
// non-shell commands; shell commands are gated only when some effective
// command name in commandText falls outside the configured allowlist.
func (o *Orchestrator) needsApproval(spec *decider.TaskSpec) (bool, string) {
	if o.cfg.ApprovalMode != "reaction" {
		return false, ""
	}
	if spec.Source != "shell" {
		return true, "agent command requires approval"
	}
	rest := strings.TrimPrefix(spec.CommandText, "sh:")
	ok, disallowed := approval.CheckAllowlist(rest, o.cfg.ShellAllowlist())
	if ok {
		return false, ""
	}
	return true, "non-allowlisted shell command(s): " + disallowed
}

// failBeforeDispatch records a task that must never reach the queue —
// attachment failures per spec.md §4.5 — and reports it immediately.
func (o *Orchestrator) failBeforeDispatch(spec *decider.TaskSpec, summary, details string) {
	t := &store.Task{
		ID: spec.TaskID, ChannelID: spec.ChannelID, MessageTS: spec.MessageTS,
		ThreadTS: spec.ThreadTS, UserID: spec.UserID, RawText: spec.RawText,
		CommandText: spec.CommandText, LockKey: spec.LockKey, Source: spec.Source,
	}
	if err := o.store.CreateTask(t); err != nil {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to create failed task record")
		return
	}
	if err := o.store.CASUpdateStatus(spec.TaskID, store.StatusPending, store.StatusRunning); err != nil {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to claim task for immediate failure")
		return
	}
	if err := o.store.CompleteTask(spec.TaskID, store.StatusFailed, summary, details, details); err != nil {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to complete failed task")
		return
	}
	o.metrics.RecordTask(store.StatusFailed)
	o.reporter.Report(spec, executor.Result{Status: executor.StatusFailed, Summary: summary, Details: details})
}

// failWaitingApproval fails a task that never made it past posting its
// approval plan — spec.md §7's "approval-post errors" resolution: the task
// is recorded failed and reported rather than left stuck waiting for a
// reaction no one will ever see.
func (o *Orchestrator) failWaitingApproval(spec *decider.TaskSpec, summary, details string) {
	if err := o.store.CASUpdateStatus(spec.TaskID, store.StatusWaitingApproval, store.StatusRunning); err != nil {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to claim waiting-approval task for failure")
		return
	}
	if err := o.store.CompleteTask(spec.TaskID, store.StatusFailed, summary, details, details); err != nil {
		o.logger.Error().Err(err).Str("task_id", spec.TaskID).Msg("failed to complete failed task")
		return
	}
	o.metrics.RecordTask(store.StatusFailed)
	o.reporter.Report(spec, executor.Result{Status: executor.StatusFailed, Summary: summary, Details: details})
}

// handleReaction resolves a pending approval from an incoming reaction and
// acts on the outcome. Returns true if the task was canceled.
func (o *Orchestrator) handleReaction(r slackio.Reaction) bool {
	outcome, err := o.approval.HandleReaction(r)
	if err != nil {
		o.logger.Error().Err(err).Msg("approval_payload_invalid")
		slogevent.Emit(o.logger, slogevent.ApprovalPayloadInvalid, map[string]any{"error": err.Error()})
		return false
	}
	if outcome == nil {
		return false
	}

	if outcome.Approved {
		if err := o.store.CASUpdateStatus(outcome.TaskID, store.StatusWaitingApproval, store.StatusPending); err != nil {
			o.logger.Debug().Str("task_id", outcome.TaskID).Msg("task already left waiting_approval")
			return false
		}
		o.queue.Enqueue(outcome.TaskID)
		o.metrics.RecordApproval("approved")
		slogevent.Emit(o.logger, slogevent.TaskApproved, map[string]any{"task_id": outcome.TaskID})
		return false
	}

	if err := o.store.CASUpdateStatus(outcome.TaskID, store.StatusWaitingApproval, store.StatusCanceled); err != nil {
		o.logger.Debug().Str("task_id", outcome.TaskID).Msg("task already left waiting_approval")
		return false
	}
	o.metrics.RecordApproval("rejected")
	slogevent.Emit(o.logger, slogevent.TaskCanceled, map[string]any{"task_id": outcome.TaskID})

	t, err := o.store.GetTask(outcome.TaskID)
	if err == nil {
		o.reporter.Report(taskSpecFromStoreTask(t), executor.Result{Status: executor.StatusFailed, Summary: "task canceled by reviewer", Details: "rejected via reaction"})
	}
	return true
}

// drainQueue claims and dispatches every task currently queued, deferring
// tasks whose lock is busy to the next cycle rather than spinning on them
// within this one. Returns the number of tasks dispatched this cycle.
func (o *Orchestrator) drainQueue(ctx context.Context) int {
	var deferred []string
	var wg sync.WaitGroup
	dispatched := 0

	for {
		id, ok := o.queue.Dequeue()
		if !ok {
			break
		}

		if err := o.store.CASUpdateStatus(id, store.StatusPending, store.StatusRunning); err != nil {
			continue // another worker already claimed it
		}

		t, err := o.store.GetTask(id)
		if err != nil {
			o.logger.Error().Err(err).Str("task_id", id).Msg("failed to load claimed task")
			continue
		}

		acquired, err := o.store.AcquireLock(t.LockKey, id)
		if err != nil {
			o.logger.Error().Err(err).Str("task_id", id).Msg("failed to acquire lock")
			continue
		}
		if !acquired {
			if revertErr := o.store.CASUpdateStatus(id, store.StatusRunning, store.StatusPending); revertErr != nil {
				o.logger.Error().Err(revertErr).Str("task_id", id).Msg("failed to revert deferred task to pending")
			}
			deferred = append(deferred, id)
			slogevent.Emit(o.logger, slogevent.TaskDeferredLockBusy, map[string]any{"task_id": id, "lock_key": t.LockKey})
			continue
		}

		dispatched++
		slogevent.Emit(o.logger, slogevent.TaskStarted, map[string]any{"task_id": id, "lock_key": t.LockKey, "source": t.Source})

		if cap(o.sem) <= 1 {
			o.finishTask(ctx, t)
			continue
		}

		select {
		case o.sem <- struct{}{}:
			wg.Add(1)
			go func(task *store.Task) {
				defer wg.Done()
				defer func() { <-o.sem }()
				o.finishTask(ctx, task)
			}(t)
		default:
			slogevent.Emit(o.logger, slogevent.ProcessPoolSubmitFailed, map[string]any{"task_id": id})
			o.finishTask(ctx, t)
		}
	}

	wg.Wait()

	for _, id := range deferred {
		o.queue.Enqueue(id)
	}

	return dispatched
}

// finishTask executes a claimed, lock-held task, persists its terminal
// status, reports it, and always releases the lock regardless of outcome.
func (o *Orchestrator) finishTask(ctx context.Context, t *store.Task) {
	defer func() {
		if err := o.store.ReleaseLock(t.LockKey, t.ID); err != nil {
			o.logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to release lock")
		}
	}()

	spec := taskSpecFromStoreTask(t)
	imagePaths := splitImagePaths(t.ImagePaths)

	unlock := o.lockThread(t.ChannelID, t.ThreadTS)
	start := time.Now()
	result := o.executor.Execute(ctx, spec, imagePaths)
	unlock()

	if err := o.store.CompleteTask(t.ID, result.Status, result.Summary, result.Details, errDetail(result)); err != nil {
		o.logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to complete task")
	}
	o.metrics.RecordTask(result.Status)
	o.metrics.ObserveTaskDuration(t.Source, time.Since(start).Seconds())
	slogevent.Emit(o.logger, slogevent.TaskFinished, map[string]any{"task_id": t.ID, "status": result.Status})

	o.reporter.Report(spec, result)
}

func errDetail(result executor.Result) string {
	if result.Status == executor.StatusFailed {
		return result.Summary
	}
	return ""
}

// lockThread serializes thread-context read-modify-write per (channel,
// thread_ts) — Open Question 3's resolution — and returns the unlock func.
func (o *Orchestrator) lockThread(channelID, threadTS string) func() {
	key := channelID + "\x00" + threadTS
	v, _ := o.threadLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func taskSpecFromStoreTask(t *store.Task) *decider.TaskSpec {
	return &decider.TaskSpec{
		TaskID: t.ID, ChannelID: t.ChannelID, MessageTS: t.MessageTS,
		ThreadTS: t.ThreadTS, UserID: t.UserID, RawText: t.RawText,
		CommandText: t.CommandText, LockKey: t.LockKey, Source: t.Source,
	}
}

func splitImagePaths(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, "\n")
}

func convertFiles(files []slackio.File) []attachments.File {
	out := make([]attachments.File, 0, len(files))
	for _, f := range files {
		out = append(out, attachments.File{Name: f.Name, MimeType: f.MimeType, URLPrivate: f.URLPrivate, Size: f.Size})
	}
	return out
}
