package slackio

import (
	"fmt"

	"github.com/slack-go/slack"
)

// Poster posts and updates messages and reacts to them — the write surface
// shared by the Approval Manager (plan posts) and the Reporter (result posts).
type Poster struct {
	client *SafeClient
}

// NewPoster wraps client as a Poster.
func NewPoster(client *SafeClient) *Poster {
	return &Poster{client: client}
}

// Post sends text to channelID, optionally inside a thread, and returns the
// new message's timestamp.
func (p *Poster) Post(channelID, text, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := p.client.PostMessage(channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("post message to %s: %w", channelID, err)
	}
	return ts, nil
}

// Update replaces the text of an existing message.
func (p *Poster) Update(channelID, messageTS, text string) error {
	_, _, _, err := p.client.UpdateMessage(channelID, messageTS, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("update message %s/%s: %w", channelID, messageTS, err)
	}
	return nil
}

// React adds an emoji reaction (without the surrounding colons) to a message.
func (p *Poster) React(channelID, messageTS, reaction string) error {
	err := p.client.AddReaction(reaction, slack.ItemRef{Channel: channelID, Timestamp: messageTS})
	if err != nil {
		return fmt.Errorf("react %s to %s/%s: %w", reaction, channelID, messageTS, err)
	}
	return nil
}
