// Package reporter posts one structured result message per finished task
// to the report channel, chunking long details and retrying failed posts
// through a durable dead-letter queue rather than dropping them.
package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slackclaw/slackclaw/internal/clock"
	"github.com/slackclaw/slackclaw/internal/config"
	"github.com/slackclaw/slackclaw/internal/decider"
	"github.com/slackclaw/slackclaw/internal/executor"
	"github.com/slackclaw/slackclaw/internal/retry"
	"github.com/slackclaw/slackclaw/internal/slackio"
	"github.com/slackclaw/slackclaw/internal/store"
)

const detailsChunkSize = 2800
const maxDetailsChunks = 30

// Reporter posts final task results to the report channel.
type Reporter struct {
	cfg        *config.Config
	store      *store.Store
	poster     *slackio.Poster
	logger     zerolog.Logger
	backoffCfg retry.Config
}

// New builds a Reporter.
func New(cfg *config.Config, st *store.Store, poster *slackio.Poster, logger zerolog.Logger) *Reporter {
	return &Reporter{
		cfg:    cfg,
		store:  st,
		poster: poster,
		logger: logger.With().Str("component", "reporter").Logger(),
		backoffCfg: retry.Config{
			MaxAttempts: 1,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
	}
}

// trim truncates text to max characters, appending "..." when it had to cut.
func trim(text string, max int) string {
	if len(text) <= max {
		return text
	}
	if max < 3 {
		return text[:max]
	}
	return text[:max-3] + "..."
}

func statusIcon(status string) string {
	if status == executor.StatusSucceeded {
		return ":white_check_mark:"
	}
	return ":x:"
}

func (r *Reporter) composeText(task *decider.TaskSpec, result executor.Result) string {
	icon := statusIcon(result.Status)
	label := strings.ToUpper(result.Status)
	lines := []string{
		fmt.Sprintf("%s slackclaw task `%s` %s", icon, task.TaskID, label),
		fmt.Sprintf("source: %s @ %s by %s (thread %s)", task.ChannelID, task.MessageTS, task.UserID, task.ThreadTS),
		fmt.Sprintf("input: %s", trim(task.CommandText, r.cfg.ReportInputMaxChars)),
		fmt.Sprintf("summary: %s", trim(result.Summary, r.cfg.ReportSummaryMaxChars)),
	}
	details := trim(result.Details, r.cfg.ReportDetailsMaxChars)
	chunks := chunkDetails(details, detailsChunkSize, maxDetailsChunks)
	for i, c := range chunks {
		if len(chunks) == 1 {
			lines = append(lines, fmt.Sprintf("details: %s", c))
		} else {
			lines = append(lines, fmt.Sprintf("details [%d/%d]: %s", i+1, len(chunks), c))
		}
	}
	return strings.Join(lines, "\n")
}

func chunkDetails(text string, size, maxChunks int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	for len(text) > 0 && len(chunks) < maxChunks {
		n := size
		if n > len(text) {
			n = len(text)
		}
		chunks = append(chunks, text[:n])
		text = text[n:]
	}
	return chunks
}

// Report posts one result message for task. On post failure it saves a
// dead-letter row and logs report_failed; it never returns an error to the
// caller since Reporter failures must not affect task status.
func (r *Reporter) Report(task *decider.TaskSpec, result executor.Result) {
	text := r.composeText(task, result)
	if _, err := r.poster.Post(r.cfg.ReportChannelID, text, ""); err != nil {
		r.logger.Error().Err(err).Str("task_id", task.TaskID).Str("event", "report_failed").Msg("failed to post report")
		dl := &store.ReportDeadLetter{
			ID:            clock.NewSessionID(),
			TaskID:        task.TaskID,
			ChannelID:     r.cfg.ReportChannelID,
			ThreadTS:      "",
			Text:          text,
			Attempts:      0,
			LastError:     err.Error(),
			NextAttemptAt: time.Now().Add(retry.NextBackoff(r.backoffCfg, 0)).Unix(),
		}
		if saveErr := r.store.SaveReportDeadLetter(dl); saveErr != nil {
			r.logger.Error().Err(saveErr).Str("task_id", task.TaskID).Msg("failed to persist report dead letter")
		}
	}
}

// RetryDeadLetters attempts to resend any due dead-lettered reports.
func (r *Reporter) RetryDeadLetters(limit int) {
	due, err := r.store.ListDueReportDeadLetters(limit)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list due report dead letters")
		return
	}
	for _, dl := range due {
		if _, err := r.poster.Post(dl.ChannelID, dl.Text, dl.ThreadTS); err != nil {
			next := time.Now().Add(retry.NextBackoff(r.backoffCfg, dl.Attempts+1)).Unix()
			if incErr := r.store.IncrementReportDeadLetterAttempt(dl.ID, err.Error(), next); incErr != nil {
				r.logger.Error().Err(incErr).Str("task_id", dl.TaskID).Msg("failed to update report dead letter")
			}
			continue
		}
		if err := r.store.ResolveReportDeadLetter(dl.ID); err != nil {
			r.logger.Error().Err(err).Str("task_id", dl.TaskID).Msg("failed to resolve report dead letter")
		}
	}
}
