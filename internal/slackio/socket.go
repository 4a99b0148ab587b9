package slackio

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SocketListener watches the command channel over a Socket Mode websocket
// connection, the only transport that observes reaction_added events (Open
// Question 4: poll mode never sees reactions, so reaction-gated approval
// requires socket mode).
type SocketListener struct {
	socket           *socketmode.Client
	commandChannelID string
	readTimeout      time.Duration
	logger           zerolog.Logger

	msgCh    chan Message
	reactCh  chan Reaction
	cancel   context.CancelFunc
	runErrCh chan error
}

// NewSocketListener opens a Socket Mode client using botToken for REST calls
// and appToken for the apps.connections.open handshake.
func NewSocketListener(botToken, appToken, commandChannelID string, readTimeout time.Duration, logger zerolog.Logger) *SocketListener {
	raw := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	socket := socketmode.New(raw)
	return &SocketListener{
		socket:           socket,
		commandChannelID: commandChannelID,
		readTimeout:      readTimeout,
		logger:           logger.With().Str("component", "slackio.socket").Logger(),
		msgCh:            make(chan Message, 256),
		reactCh:          make(chan Reaction, 256),
		runErrCh:         make(chan error, 1),
	}
}

// Start connects and begins pumping events in the background. Must be
// called once before the first Poll.
func (s *SocketListener) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.pump(runCtx)

	go func() {
		s.runErrCh <- s.socket.RunContext(runCtx)
	}()

	return nil
}

func (s *SocketListener) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.socket.Events:
			if !ok {
				return
			}
			s.handleEvent(ctx, evt)
		}
	}
}

func (s *SocketListener) handleEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	if evt.Request != nil {
		s.socket.Ack(*evt.Request)
	}

	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.Channel != s.commandChannelID {
			return
		}
		msg := Message{
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Text:      ev.Text,
			TS:        ev.TimeStamp,
			ThreadTS:  ev.ThreadTimeStamp,
			Subtype:   ev.SubType,
			Files:     convertSlackFiles(ev.Files),
		}
		select {
		case s.msgCh <- msg:
		case <-ctx.Done():
		}
	case *slackevents.ReactionAddedEvent:
		r := Reaction{
			ChannelID: ev.Item.Channel,
			UserID:    ev.User,
			Reaction:  ev.Reaction,
			ItemTS:    ev.Item.Timestamp,
		}
		select {
		case s.reactCh <- r:
		case <-ctx.Done():
		}
	}
}

// Poll drains whatever messages/reactions arrived within the configured
// read-timeout window and returns them, mirroring the bounded read-loop the
// original socket listener used.
func (s *SocketListener) Poll(ctx context.Context) (Batch, error) {
	deadline := time.NewTimer(s.readTimeout)
	defer deadline.Stop()

	var batch Batch
	for {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case err := <-s.runErrCh:
			if err != nil {
				return batch, fmt.Errorf("socket mode connection closed: %w", err)
			}
			return batch, fmt.Errorf("socket mode connection closed")
		case m := <-s.msgCh:
			batch.Messages = append(batch.Messages, m)
		case r := <-s.reactCh:
			batch.Reactions = append(batch.Reactions, r)
		case <-deadline.C:
			return batch, nil
		}
	}
}

// Close cancels the background connection.
func (s *SocketListener) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
