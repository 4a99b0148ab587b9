package slackio

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// PollListener watches a channel by repeatedly calling conversations.history,
// paginating with a cursor and tracking the newest message timestamp seen
// so the next poll only asks for what's new. It never observes reactions —
// APPROVAL_MODE=reaction requires the socket listener (Open Question 4).
type PollListener struct {
	client      *SafeClient
	channelID   string
	interval    time.Duration
	batchSize   int
	oldest      string
	logger      zerolog.Logger
}

// NewPollListener builds a poll-mode listener starting from oldest (a Slack
// timestamp checkpoint, or "" to start from the channel's beginning).
func NewPollListener(client *SafeClient, channelID string, interval time.Duration, batchSize int, oldest string, logger zerolog.Logger) *PollListener {
	return &PollListener{
		client:    client,
		channelID: channelID,
		interval:  interval,
		batchSize: batchSize,
		oldest:    oldest,
		logger:    logger.With().Str("component", "slackio.poll").Logger(),
	}
}

// Poll sleeps for the poll interval, then fetches up to 20 pages of new
// messages since the last checkpoint and returns them oldest-first.
func (p *PollListener) Poll(ctx context.Context) (Batch, error) {
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case <-time.After(p.interval):
	}

	var all []slack.Message
	cursor := ""
	for page := 0; page < 20; page++ {
		resp, err := p.client.GetConversationHistory(&slack.GetConversationHistoryParameters{
			ChannelID: p.channelID,
			Oldest:    p.oldest,
			Limit:     p.batchSize,
			Cursor:    cursor,
			Inclusive: false,
		})
		if err != nil {
			return Batch{}, fmt.Errorf("poll conversations.history: %w", err)
		}
		all = append(all, resp.Messages...)
		if resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}

	sort.Slice(all, func(i, j int) bool {
		return tsLess(all[i].Timestamp, all[j].Timestamp)
	})

	var batch Batch
	for _, m := range all {
		batch.Messages = append(batch.Messages, Message{
			ChannelID: p.channelID,
			UserID:    m.User,
			Text:      m.Text,
			TS:        m.Timestamp,
			ThreadTS:  m.ThreadTimestamp,
			Subtype:   m.SubType,
			Files:     convertSlackFiles(m.Files),
		})
	}
	if len(all) > 0 {
		p.oldest = all[len(all)-1].Timestamp
	}
	return batch, nil
}

// Close is a no-op for the poll listener; there is no persistent connection.
func (p *PollListener) Close() error { return nil }

// Checkpoint returns the newest message timestamp seen so far, so the
// caller can persist it and resume from the same point after a restart.
func (p *PollListener) Checkpoint() string { return p.oldest }

func convertSlackFiles(files []slack.File) []File {
	if len(files) == 0 {
		return nil
	}
	out := make([]File, 0, len(files))
	for _, f := range files {
		out = append(out, File{
			Name:       f.Name,
			MimeType:   f.Mimetype,
			URLPrivate: f.URLPrivate,
			Size:       int64(f.Size),
		})
	}
	return out
}

func tsLess(a, b string) bool {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr != nil || berr != nil {
		return a < b
	}
	return af < bf
}
