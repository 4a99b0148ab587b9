package slackio

import (
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

func socketModeEventsAPIEvent(inner slackevents.EventsAPIInnerEvent) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: inner,
		},
	}
}

func messageEvent(channel, user, text, ts string) slackevents.EventsAPIInnerEvent {
	return slackevents.EventsAPIInnerEvent{
		Type: "message",
		Data: &slackevents.MessageEvent{
			Type:      "message",
			Channel:   channel,
			User:      user,
			Text:      text,
			TimeStamp: ts,
		},
	}
}

func reactionEvent(user, reaction, itemChannel, itemTS string) slackevents.EventsAPIInnerEvent {
	return slackevents.EventsAPIInnerEvent{
		Type: "reaction_added",
		Data: &slackevents.ReactionAddedEvent{
			Type:     "reaction_added",
			User:     user,
			Reaction: reaction,
			Item: slackevents.Item{
				Type:      "message",
				Channel:   itemChannel,
				Timestamp: itemTS,
			},
		},
	}
}
