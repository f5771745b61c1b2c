// ABOUTME: Tests for message persistence and history forking
// ABOUTME: Covers seq assignment, session scoping and copy-on-write forks

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStore_AppendAssignsSeq(t *testing.T) {
	store := setupTestStore(t)
	sess := createTestSession(t, store, "chat")

	first := appendTestMessage(t, store, sess.ID, RoleSystem, "be brief")
	second := appendTestMessage(t, store, sess.ID, RoleUser, "hi")
	third := appendTestMessage(t, store, sess.ID, RoleAssistant, "hello")

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, int64(3), third.Seq)
	assert.Equal(t, sess.ActiveBranchID, third.BranchID)

	msgs, err := store.ListMessages(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []MessageRole{RoleSystem, RoleUser, RoleAssistant},
		[]MessageRole{msgs[0].Role, msgs[1].Role, msgs[2].Role})
}

func TestMessageStore_SeqIsPerSession(t *testing.T) {
	store := setupTestStore(t)
	a := createTestSession(t, store, "a")
	b := createTestSession(t, store, "b")

	appendTestMessage(t, store, a.ID, RoleUser, "a1")
	appendTestMessage(t, store, a.ID, RoleUser, "a2")
	got := appendTestMessage(t, store, b.ID, RoleUser, "b1")

	assert.Equal(t, int64(1), got.Seq)
}

func TestMessageStore_AppendRejectsUnknownRole(t *testing.T) {
	store := setupTestStore(t)
	sess := createTestSession(t, store, "chat")

	_, err := store.AppendMessage(context.Background(), sess.ID, NewMessage{Role: "tool", Content: "x"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMessageStore_AppendUnknownSession(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.AppendMessage(context.Background(), NewSessionID(), NewMessage{Role: RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageStore_GetAndUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "chat")
	msg := appendTestMessage(t, store, sess.ID, RoleAssistant, "")

	for _, partial := range []string{"Hel", "Hello", "Hello, world"} {
		updated, err := store.UpdateMessage(ctx, sess.ID, msg.ID, MessagePatch{Content: strPtr(partial)})
		require.NoError(t, err)
		assert.Equal(t, partial, updated.Content)
		assert.Equal(t, msg.ID, updated.ID)
		assert.Equal(t, msg.Seq, updated.Seq)
	}

	got, err := store.GetMessage(ctx, sess.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", got.Content)
}

func TestMessageStore_CrossSessionGuard(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	s1 := createTestSession(t, store, "s1")
	s2 := createTestSession(t, store, "s2")
	msg := appendTestMessage(t, store, s1.ID, RoleUser, "original")

	_, err := store.UpdateMessage(ctx, s2.ID, msg.ID, MessagePatch{Content: strPtr("hijacked")})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetMessage(ctx, s2.ID, msg.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetMessage(ctx, s1.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
}

func TestMessageStore_ForkFromHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "fork me")
	a := appendTestMessage(t, store, sess.ID, RoleUser, "A")
	b := appendTestMessage(t, store, sess.ID, RoleAssistant, "B")
	appendTestMessage(t, store, sess.ID, RoleUser, "C")

	out, err := store.ForkFromHistory(ctx, sess.ID, HistoryForkRequest{
		SourceMessageID:    b.ID,
		ReplacementContent: "B2",
	})
	require.NoError(t, err)
	assert.Equal(t, sess.ActiveBranchID, out.PreviousBranchID)
	assert.NotEqual(t, sess.ActiveBranchID, out.NewBranchID)

	msgs, err := store.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[0].Content)
	assert.Equal(t, int64(1), msgs[0].Seq)
	assert.NotEqual(t, a.ID, msgs[0].ID)
	assert.Equal(t, "B2", msgs[1].Content)
	assert.Equal(t, int64(2), msgs[1].Seq)
	assert.Equal(t, RoleAssistant, msgs[1].Role)

	require.Len(t, out.MessageIDRemaps, 2)
	assert.Equal(t, MessageIDRemap{OldMessageID: a.ID, NewMessageID: msgs[0].ID}, out.MessageIDRemaps[0])
	assert.Equal(t, MessageIDRemap{OldMessageID: b.ID, NewMessageID: msgs[1].ID}, out.MessageIDRemaps[1])

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, out.NewBranchID, got.ActiveBranchID)

	// nothing on the old branch is reachable through a live branch
	var visible int
	err = store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN branches b ON b.id = m.branch_id AND b.session_id = m.session_id
		WHERE m.branch_id = ? AND m.deleted_at IS NULL AND b.deleted_at IS NULL
	`, out.PreviousBranchID).Scan(&visible)
	require.NoError(t, err)
	assert.Zero(t, visible)

	branches, err := store.ListBranches(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.True(t, branches[0].Visibility.IsDeleted())
	assert.False(t, branches[1].Visibility.IsDeleted())
	require.NotNil(t, branches[1].ParentBranchID)
	assert.Equal(t, out.PreviousBranchID, *branches[1].ParentBranchID)

	// new messages continue the new branch after the copied prefix
	next := appendTestMessage(t, store, sess.ID, RoleUser, "D")
	assert.Equal(t, int64(3), next.Seq)
	assert.Equal(t, out.NewBranchID, next.BranchID)
}

func TestMessageStore_ForkAtFirstMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "fork first")
	a := appendTestMessage(t, store, sess.ID, RoleUser, "A")
	appendTestMessage(t, store, sess.ID, RoleAssistant, "B")

	out, err := store.ForkFromHistory(ctx, sess.ID, HistoryForkRequest{SourceMessageID: a.ID, ReplacementContent: "A2"})
	require.NoError(t, err)
	require.Len(t, out.MessageIDRemaps, 1)

	msgs, err := store.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "A2", msgs[0].Content)
}

func TestMessageStore_ForkTwice(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "fork twice")
	a := appendTestMessage(t, store, sess.ID, RoleUser, "A")

	first, err := store.ForkFromHistory(ctx, sess.ID, HistoryForkRequest{SourceMessageID: a.ID, ReplacementContent: "A2"})
	require.NoError(t, err)

	// the old id now lives on a superseded branch
	_, err = store.ForkFromHistory(ctx, sess.ID, HistoryForkRequest{SourceMessageID: a.ID, ReplacementContent: "A3"})
	require.ErrorIs(t, err, ErrNotFound)

	second, err := store.ForkFromHistory(ctx, sess.ID, HistoryForkRequest{
		SourceMessageID:    first.MessageIDRemaps[0].NewMessageID,
		ReplacementContent: "A3",
	})
	require.NoError(t, err)
	assert.Equal(t, first.NewBranchID, second.PreviousBranchID)

	msgs, err := store.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "A3", msgs[0].Content)
}

func TestMessageStore_ForkRejectsForeignMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	s1 := createTestSession(t, store, "s1")
	s2 := createTestSession(t, store, "s2")
	appendTestMessage(t, store, s1.ID, RoleUser, "mine")
	other := appendTestMessage(t, store, s2.ID, RoleUser, "theirs")

	_, err := store.ForkFromHistory(ctx, s1.ID, HistoryForkRequest{SourceMessageID: other.ID, ReplacementContent: "x"})
	require.ErrorIs(t, err, ErrNotFound)

	// failed fork left s1 untouched
	got, err := store.GetSession(ctx, s1.ID)
	require.NoError(t, err)
	branches, err := store.ListBranches(ctx, s1.ID)
	require.NoError(t, err)
	assert.Len(t, branches, 1)
	assert.Equal(t, branches[0].ID, got.ActiveBranchID)
}

func TestMessageStore_ForkMissingActiveBranchIsInvariantViolation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "corrupt")
	msg := appendTestMessage(t, store, sess.ID, RoleUser, "A")

	// simulate prior corruption by blanking the active branch
	_, err := store.db.ExecContext(ctx, `PRAGMA foreign_keys=OFF`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `UPDATE sessions SET active_branch_id = '' WHERE id = ?`, sess.ID)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `PRAGMA foreign_keys=ON`)
	require.NoError(t, err)

	_, err = store.ForkFromHistory(ctx, sess.ID, HistoryForkRequest{SourceMessageID: msg.ID, ReplacementContent: "x"})
	require.ErrorIs(t, err, ErrInvariantViolation)
}
