package approval

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slackclaw/slackclaw/internal/slackio"
	"github.com/slackclaw/slackclaw/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dbPath := "/tmp/slackclaw-approval-test-" + time.Now().Format("20060102150405.000000000") + ".db"
	st, err := store.New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	return st, dbPath
}

func TestHandleReaction_ApprovesOnMatchingEmoji(t *testing.T) {
	st, dbPath := newTestStore(t)
	defer func() { st.Close(); os.Remove(dbPath) }()

	require.NoError(t, st.CreateApproval("t1", "C1", "90.1", "100.1"))
	mgr := New(st, slackio.NewPoster(slackio.NewSafeClient("x", nil, zerolog.Nop())), "white_check_mark", "x", zerolog.Nop())

	outcome, err := mgr.HandleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "white_check_mark", ItemTS: "100.1", UserID: "U1"})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Approved)
	assert.Equal(t, "t1", outcome.TaskID)
}

func TestHandleReaction_RejectsOnRejectEmoji(t *testing.T) {
	st, dbPath := newTestStore(t)
	defer func() { st.Close(); os.Remove(dbPath) }()

	require.NoError(t, st.CreateApproval("t1", "C1", "90.1", "100.1"))
	mgr := New(st, slackio.NewPoster(slackio.NewSafeClient("x", nil, zerolog.Nop())), "white_check_mark", "x", zerolog.Nop())

	outcome, err := mgr.HandleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "x", ItemTS: "100.1", UserID: "U1"})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Approved)
}

func TestHandleReaction_IgnoresUnrelatedEmoji(t *testing.T) {
	st, dbPath := newTestStore(t)
	defer func() { st.Close(); os.Remove(dbPath) }()

	require.NoError(t, st.CreateApproval("t1", "C1", "90.1", "100.1"))
	mgr := New(st, slackio.NewPoster(slackio.NewSafeClient("x", nil, zerolog.Nop())), "white_check_mark", "x", zerolog.Nop())

	outcome, err := mgr.HandleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "eyes", ItemTS: "100.1", UserID: "U1"})
	require.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestHandleReaction_SecondConflictingReactionIsNoOp(t *testing.T) {
	st, dbPath := newTestStore(t)
	defer func() { st.Close(); os.Remove(dbPath) }()

	require.NoError(t, st.CreateApproval("t1", "C1", "90.1", "100.1"))
	mgr := New(st, slackio.NewPoster(slackio.NewSafeClient("x", nil, zerolog.Nop())), "white_check_mark", "x", zerolog.Nop())

	_, err := mgr.HandleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "white_check_mark", ItemTS: "100.1", UserID: "U1"})
	require.NoError(t, err)

	outcome, err := mgr.HandleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "x", ItemTS: "100.1", UserID: "U2"})
	require.NoError(t, err)
	assert.Nil(t, outcome)

	a, err := st.GetApproval("t1")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalApproved, a.Status)
}

func TestHandleReaction_ResolvesViaSourceMessageTS(t *testing.T) {
	st, dbPath := newTestStore(t)
	defer func() { st.Close(); os.Remove(dbPath) }()

	require.NoError(t, st.CreateApproval("t1", "C1", "90.1", "100.1"))
	mgr := New(st, slackio.NewPoster(slackio.NewSafeClient("x", nil, zerolog.Nop())), "white_check_mark", "x", zerolog.Nop())

	// A reaction on the original command message (90.1), not the bot's
	// own plan message (100.1), must resolve the same approval.
	outcome, err := mgr.HandleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "white_check_mark", ItemTS: "90.1", UserID: "U1"})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Approved)
	assert.Equal(t, "t1", outcome.TaskID)
}

func TestHandleReaction_UnknownMessage(t *testing.T) {
	st, dbPath := newTestStore(t)
	defer func() { st.Close(); os.Remove(dbPath) }()

	mgr := New(st, slackio.NewPoster(slackio.NewSafeClient("x", nil, zerolog.Nop())), "white_check_mark", "x", zerolog.Nop())
	outcome, err := mgr.HandleReaction(slackio.Reaction{ChannelID: "C1", Reaction: "white_check_mark", ItemTS: "999.9", UserID: "U1"})
	require.NoError(t, err)
	assert.Nil(t, outcome)
}
