// Package slogevent names the stable structured event types slackclaw
// emits on stdout (one JSON object per line via zerolog) so operators can
// grep/alert on them without depending on human-readable log text.
package slogevent

import "github.com/rs/zerolog"

const (
	Startup                 = "startup"
	Signal                  = "signal"
	ListenError             = "listen_error"
	TaskWaitingApproval     = "task_waiting_approval"
	TaskApproved            = "task_approved"
	TaskCanceled            = "task_canceled"
	ApprovalRequestFailed   = "approval_request_failed"
	ApprovalPayloadInvalid  = "approval_payload_invalid"
	TaskImagesPrepared      = "task_images_prepared"
	TaskImagePrepareFailed  = "task_image_prepare_failed"
	TaskStarted             = "task_started"
	TaskDeferredLockBusy    = "task_deferred_lock_busy"
	ProcessPoolSubmitFailed = "process_pool_submit_failed"
	TaskFinished            = "task_finished"
	ReportFailed            = "report_failed"
	CycleFinished           = "cycle_finished"
)

// Emit writes one structured event line at info level with the given fields.
func Emit(logger zerolog.Logger, event string, fields map[string]any) {
	ev := logger.Info().Str("event", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(event)
}
