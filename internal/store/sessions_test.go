// ABOUTME: Tests for session persistence
// ABOUTME: Covers create, list ordering, rename, soft-delete and restore

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := createTestSession(t, store, "First chat")
	assert.False(t, created.ID.IsZero())
	assert.False(t, created.ActiveBranchID.IsZero())
	assert.False(t, created.Visibility.IsDeleted())

	got, err := store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "First chat", got.Title)
	assert.Equal(t, created.ActiveBranchID, got.ActiveBranchID)
	assert.Equal(t, created.UpdatedAt, got.UpdatedAt)

	branches, err := store.ListBranches(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, created.ActiveBranchID, branches[0].ID)
	assert.Nil(t, branches[0].ParentBranchID)
}

func TestSessionStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSession(context.Background(), NewSessionID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_Lifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := createTestSession(t, store, "a")
	b := createTestSession(t, store, "b")

	require.NoError(t, store.SoftDeleteSession(ctx, a.ID))

	list, err := store.ListSessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	all, err := store.ListSessions(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	deleted, err := store.GetSession(ctx, a.ID)
	require.NoError(t, err)
	at, ok := deleted.Visibility.DeletedTime()
	assert.True(t, ok)
	assert.False(t, at.IsZero())

	require.NoError(t, store.RestoreSession(ctx, a.ID))

	list, err = store.ListSessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// restore bumped a's updated_at past b's
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
	assert.False(t, list[0].Visibility.IsDeleted())
	assertSessionsOrdered(t, list)
}

func TestSessionStore_ListTieBreaksByIDDescending(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := setupTestStoreWith(t, Options{Now: func() time.Time { return fixed }})

	var created []*SessionRecord
	for _, title := range []string{"one", "two", "three"} {
		created = append(created, createTestSession(t, store, title))
	}

	list, err := store.ListSessions(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, created[2].ID, list[0].ID)
	assert.Equal(t, created[1].ID, list[1].ID)
	assert.Equal(t, created[0].ID, list[2].ID)
	assertSessionsOrdered(t, list)
}

func assertSessionsOrdered(t *testing.T, list []*SessionRecord) {
	t.Helper()
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.UpdatedAt.Equal(cur.UpdatedAt) {
			assert.Equal(t, 1, prev.ID.Compare(cur.ID), "tie at %d not broken by id desc", i)
		} else {
			assert.True(t, prev.UpdatedAt.After(cur.UpdatedAt), "sessions not newest first at %d", i)
		}
	}
}

func TestSessionStore_UpdateTitle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "before")

	updated, err := store.UpdateSession(ctx, sess.ID, SessionPatch{Title: strPtr("after")})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
	assert.True(t, updated.UpdatedAt.After(sess.UpdatedAt))

	// empty patch keeps the title but still touches the row
	same, err := store.UpdateSession(ctx, sess.ID, SessionPatch{})
	require.NoError(t, err)
	assert.Equal(t, "after", same.Title)
}

func TestSessionStore_UpdateNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.UpdateSession(context.Background(), NewSessionID(), SessionPatch{Title: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_SoftDeleteAndRestoreAreIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "twice")

	require.NoError(t, store.RestoreSession(ctx, sess.ID), "restoring an active session is a no-op")
	require.NoError(t, store.SoftDeleteSession(ctx, sess.ID))
	require.NoError(t, store.SoftDeleteSession(ctx, sess.ID), "deleting a deleted session is a no-op")
	require.NoError(t, store.RestoreSession(ctx, sess.ID))
}

func TestSessionStore_SoftDeleteAndRestoreNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.SoftDeleteSession(ctx, NewSessionID()), ErrNotFound)
	assert.ErrorIs(t, store.RestoreSession(ctx, NewSessionID()), ErrNotFound)
}

func TestSessionStore_DeletedSessionRejectsAppends(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, store, "gone")
	require.NoError(t, store.SoftDeleteSession(ctx, sess.ID))

	_, err := store.AppendMessage(ctx, sess.ID, NewMessage{Role: RoleUser, Content: "hello?"})
	assert.ErrorIs(t, err, ErrNotFound)
}
