package executor

import (
	"fmt"
	"strings"

	"github.com/slackclaw/slackclaw/internal/clock"
	"github.com/slackclaw/slackclaw/internal/store"
)

const threadContextCharLimit = 12000

// threadContextText reconstructs the rolling conversation memory for a
// thread as a single blob, most recent content last, trimmed to the last
// threadContextCharLimit characters.
func (e *Executor) threadContextText(channelID, threadTS string) (string, error) {
	msgs, err := e.store.ListThreadContext(channelID, threadTS)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	text := strings.Join(parts, "\n\n")
	if len(text) > threadContextCharLimit {
		text = text[len(text)-threadContextCharLimit:]
	}
	return text, nil
}

// recordThreadTurn appends one agent/user/assistant triple to the thread's
// rolling context after a successful execution.
func (e *Executor) recordThreadTurn(channelID, threadTS, agent, prompt, response string) error {
	content := fmt.Sprintf("agent=%s\nuser=%s\nassistant=%s", agent, prompt, response)
	return e.store.AppendThreadContext(channelID, threadTS, "turn", content)
}

// assemblePrompt builds the final text sent to an agent CLI: thread
// context, the raw request, attached image paths, and the configured
// response-format instruction, each section added only when non-empty.
func assemblePrompt(rawPrompt, threadContext string, imagePaths []string, responseInstruction string) string {
	var b strings.Builder
	if threadContext != "" {
		b.WriteString("Shared thread context from previous agent runs:\n")
		b.WriteString(threadContext)
		b.WriteString("\n\nCurrent request:\n")
	}
	b.WriteString(rawPrompt)
	if len(imagePaths) > 0 {
		b.WriteString("\n\nAttached image file paths available on local disk:\n")
		for _, p := range imagePaths {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
	}
	if responseInstruction != "" {
		b.WriteString("\n\nResponse format requirements:\n")
		b.WriteString(responseInstruction)
	}
	return b.String()
}

// getOrCreateSession looks up the (channel, thread, agent) session,
// generating a new id (not yet stored) if none exists; callers persist the
// session id themselves after a successful run. Scoping by
// thread rather than lock key keeps unrelated threads that both run under
// lock_key="global" from sharing one conversation.
func (e *Executor) getOrCreateSession(channelID, threadTS, agentKind string) (sessionID string, existing bool, err error) {
	sess, err := e.store.GetAgentSessionByThread(channelID, threadTS, agentKind)
	if err != nil {
		return "", false, err
	}
	if sess != nil {
		return sess.SessionID, true, nil
	}
	return clock.NewSessionID(), false, nil
}

func (e *Executor) persistSession(channelID, threadTS, agentKind, sessionID string) error {
	return e.store.SaveAgentSession(&store.AgentSession{
		SessionID: sessionID,
		ChannelID: channelID,
		ThreadTS:  threadTS,
		AgentKind: agentKind,
	})
}
