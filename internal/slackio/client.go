// Package slackio wraps the Slack REST, Events API, and Socket Mode
// surfaces slackclaw needs: posting/updating report and plan messages,
// reading channel history, and listening for command messages and
// approval reactions.
package slackio

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// BotAPI is the subset of the Slack client slackclaw depends on, narrowed
// so tests can substitute a fake. No user-enumeration methods are exposed —
// the bot only ever renders Slack's own <@U123> mention format.
type BotAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AddReaction(name string, item slack.ItemRef) error
	GetConversationHistory(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

// SafeClient wraps *slack.Client and enforces that posts/updates only ever
// land in the configured command or report channel — fail-closed, per the
// teacher's SafeSlackClient pattern, generalized to a two-channel allowlist
// instead of an arbitrary list.
type SafeClient struct {
	inner           *slack.Client
	allowedChannels map[string]bool
	logger          zerolog.Logger
}

// NewSafeClient builds a Slack client restricted to writing in allowedChannels.
func NewSafeClient(botToken string, allowedChannels []string, logger zerolog.Logger) *SafeClient {
	allowed := make(map[string]bool, len(allowedChannels))
	for _, ch := range allowedChannels {
		allowed[ch] = true
	}
	return &SafeClient{
		inner:           slack.New(botToken),
		allowedChannels: allowed,
		logger:          logger.With().Str("component", "slackio.client").Logger(),
	}
}

// RawClient exposes the underlying *slack.Client — used to construct the
// Socket Mode client, which needs direct access.
func (c *SafeClient) RawClient() *slack.Client {
	return c.inner
}

// withRateLimitRetry calls fn and, if it fails with a *slack.RateLimitedError,
// sleeps for the server-supplied Retry-After (floored at 1s) and retries fn
// exactly once, per the "HTTP 429: sleep Retry-After seconds (min 1), retry
// once" contract.
func (c *SafeClient) withRateLimitRetry(fn func() error) error {
	err := fn()
	var rl *slack.RateLimitedError
	if !errors.As(err, &rl) {
		return err
	}
	wait := rl.RetryAfter
	if wait < time.Second {
		wait = time.Second
	}
	c.logger.Warn().Dur("retry_after", wait).Msg("rate limited, retrying once")
	time.Sleep(wait)
	return fn()
}

// PostMessage posts only if channelID is allowlisted.
func (c *SafeClient) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	if !c.allowedChannels[channelID] {
		c.logger.Warn().Str("channel_id", channelID).Msg("blocked post to non-allowlisted channel")
		return "", "", fmt.Errorf("channel %s is not in the allowed channels list", channelID)
	}
	var outTS, outChannel string
	err := c.withRateLimitRetry(func() error {
		var err error
		outChannel, outTS, err = c.inner.PostMessage(channelID, options...)
		return err
	})
	return outChannel, outTS, err
}

// UpdateMessage updates only if channelID is allowlisted.
func (c *SafeClient) UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if !c.allowedChannels[channelID] {
		c.logger.Warn().Str("channel_id", channelID).Msg("blocked update to non-allowlisted channel")
		return "", "", "", fmt.Errorf("channel %s is not in the allowed channels list", channelID)
	}
	var outChannel, outTS, outText string
	err := c.withRateLimitRetry(func() error {
		var err error
		outChannel, outTS, outText, err = c.inner.UpdateMessage(channelID, timestamp, options...)
		return err
	})
	return outChannel, outTS, outText, err
}

// AddReaction adds a reaction (no allowlist check).
func (c *SafeClient) AddReaction(name string, item slack.ItemRef) error {
	return c.withRateLimitRetry(func() error {
		return c.inner.AddReaction(name, item)
	})
}

// GetConversationHistory reads channel history (read-level, no allowlist check).
func (c *SafeClient) GetConversationHistory(params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	var resp *slack.GetConversationHistoryResponse
	err := c.withRateLimitRetry(func() error {
		var err error
		resp, err = c.inner.GetConversationHistory(params)
		return err
	})
	return resp, err
}

// AuthTest verifies the bot token and returns identity info.
func (c *SafeClient) AuthTest() (*slack.AuthTestResponse, error) {
	var resp *slack.AuthTestResponse
	err := c.withRateLimitRetry(func() error {
		var err error
		resp, err = c.inner.AuthTest()
		return err
	})
	return resp, err
}
