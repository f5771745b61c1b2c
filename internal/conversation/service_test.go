// ABOUTME: Tests for the conversation Service
// ABOUTME: Verifies record-first persistence, reply streaming, regeneration and agent events

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/zova-store/internal/store"
)

// mockResponder implements Responder for testing
type mockResponder struct {
	chunks      []Chunk
	err         error
	lastHistory []*store.MessageRecord
}

func (m *mockResponder) Respond(ctx context.Context, history []*store.MessageRecord) (<-chan Chunk, error) {
	m.lastHistory = history
	if m.err != nil {
		return nil, m.err
	}

	ch := make(chan Chunk, len(m.chunks))
	for _, c := range m.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drainReply(t *testing.T, reply *Reply) []Chunk {
	t.Helper()
	var got []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-reply.Stream:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-timeout:
			t.Fatal("timed out draining reply stream")
		}
	}
}

func eventTypes(t *testing.T, st *store.SQLiteStore, sessionID store.SessionID) []string {
	t.Helper()
	events, err := st.ListAgentEvents(context.Background(), sessionID, nil)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func TestService_Start_DefaultsTitle(t *testing.T) {
	svc := New(createTestStore(t), &mockResponder{}, nil, nil)

	sess, err := svc.Start(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultSessionTitle, sess.Title)

	named, err := svc.Start(context.Background(), "Trip planning")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", named.Title)
}

func TestService_Send_RecordsUserMessageFirst(t *testing.T) {
	testStore := createTestStore(t)
	responder := &mockResponder{
		chunks: []Chunk{
			{Text: "Hel"},
			{Text: "lo"},
			{Done: true, Usage: &Usage{InputTokens: 3, OutputTokens: 2}},
		},
	}
	svc := New(testStore, responder, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)

	reply, err := svc.Send(ctx, sess.ID, "Hi there")
	require.NoError(t, err)
	require.NotNil(t, reply.UserMessage)
	require.NotNil(t, reply.AssistantMessage)

	// The responder saw the stored user message, not the placeholder.
	require.Len(t, responder.lastHistory, 1)
	assert.Equal(t, reply.UserMessage.ID, responder.lastHistory[0].ID)
	assert.Equal(t, "Hi there", responder.lastHistory[0].Content)

	chunks := drainReply(t, reply)
	assert.Len(t, chunks, 3)

	history, err := svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, int64(1), history[0].Seq)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, int64(2), history[1].Seq)
	assert.Equal(t, "Hello", history[1].Content)

	assert.Equal(t, []string{EventUserMessage, EventAssistantCompleted}, eventTypes(t, testStore, sess.ID))

	events, err := testStore.ListAgentEvents(ctx, sess.ID, &reply.AssistantMessage.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload struct {
		Chars int   `json:"chars"`
		Usage Usage `json:"usage"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[0].PayloadJSON), &payload))
	assert.Equal(t, 5, payload.Chars)
	assert.Equal(t, 2, payload.Usage.OutputTokens)
}

func TestService_Send_EmptyContent(t *testing.T) {
	svc := New(createTestStore(t), &mockResponder{}, nil, nil)
	sess, err := svc.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), sess.ID, "   ")
	require.Error(t, err)
}

func TestService_Send_ResponderErrorKeepsUserMessage(t *testing.T) {
	testStore := createTestStore(t)
	svc := New(testStore, &mockResponder{err: errors.New("provider down")}, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)

	_, err = svc.Send(ctx, sess.ID, "Are you there?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")

	history, err := svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Are you there?", history[0].Content)
	assert.Empty(t, history[1].Content)

	assert.Equal(t, []string{EventUserMessage, EventAssistantFailed}, eventTypes(t, testStore, sess.ID))
}

func TestService_Send_StreamErrorRecordsFailure(t *testing.T) {
	testStore := createTestStore(t)
	responder := &mockResponder{
		chunks: []Chunk{
			{Text: "partial"},
			{Err: errors.New("stream reset")},
			{Text: " ignored"},
		},
	}
	svc := New(testStore, responder, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)

	reply, err := svc.Send(ctx, sess.ID, "Tell me a story")
	require.NoError(t, err)

	chunks := drainReply(t, reply)
	require.Len(t, chunks, 2)
	assert.EqualError(t, chunks[1].Err, "stream reset")

	msg, err := testStore.GetMessage(ctx, sess.ID, reply.AssistantMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", msg.Content)

	assert.Equal(t, []string{EventUserMessage, EventAssistantFailed}, eventTypes(t, testStore, sess.ID))
}

func TestService_Send_UnknownSession(t *testing.T) {
	svc := New(createTestStore(t), &mockResponder{}, nil, nil)

	_, err := svc.Send(context.Background(), store.NewSessionID(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_Send_PublishesUpdates(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	svc := New(createTestStore(t), &mockResponder{chunks: []Chunk{{Text: "ok"}, {Done: true}}}, b, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)

	updates, _ := b.Subscribe(t.Context(), sess.ID)

	reply, err := svc.Send(ctx, sess.ID, "ping")
	require.NoError(t, err)
	drainReply(t, reply)

	var kinds []UpdateKind
	for len(kinds) < 3 {
		select {
		case u := <-updates:
			kinds = append(kinds, u.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for updates, got %v", kinds)
		}
	}
	assert.Equal(t, []UpdateKind{UpdateMessageAppended, UpdateMessageAppended, UpdateMessageEdited}, kinds)
}

func TestService_Regenerate_UserMessageStreamsNewReply(t *testing.T) {
	testStore := createTestStore(t)
	responder := &mockResponder{chunks: []Chunk{{Text: "first answer"}, {Done: true}}}
	svc := New(testStore, responder, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)

	reply, err := svc.Send(ctx, sess.ID, "What is 2+2?")
	require.NoError(t, err)
	drainReply(t, reply)

	responder.chunks = []Chunk{{Text: "second answer"}, {Done: true}}
	regen, err := svc.Regenerate(ctx, sess.ID, reply.UserMessage.ID, "What is 3+3?")
	require.NoError(t, err)
	require.NotNil(t, regen.Reply)
	assert.Nil(t, regen.Reply.UserMessage)
	assert.Equal(t, sess.ActiveBranchID, regen.Fork.PreviousBranchID)
	require.Len(t, regen.Fork.MessageIDRemaps, 1)
	assert.Equal(t, reply.UserMessage.ID, regen.Fork.MessageIDRemaps[0].OldMessageID)

	drainReply(t, regen.Reply)

	history, err := svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "What is 3+3?", history[0].Content)
	assert.Equal(t, regen.Fork.MessageIDRemaps[0].NewMessageID, history[0].ID)
	assert.Equal(t, "second answer", history[1].Content)
	assert.Equal(t, regen.Fork.NewBranchID, history[1].BranchID)

	// The responder only saw the edited prefix.
	require.Len(t, responder.lastHistory, 1)
	assert.Equal(t, "What is 3+3?", responder.lastHistory[0].Content)

	assert.Contains(t, eventTypes(t, testStore, sess.ID), EventHistoryForked)
}

func TestService_Regenerate_AssistantMessageOnlyForks(t *testing.T) {
	testStore := createTestStore(t)
	responder := &mockResponder{chunks: []Chunk{{Text: "draft"}, {Done: true}}}
	svc := New(testStore, responder, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)
	reply, err := svc.Send(ctx, sess.ID, "Write a haiku")
	require.NoError(t, err)
	drainReply(t, reply)

	regen, err := svc.Regenerate(ctx, sess.ID, reply.AssistantMessage.ID, "edited haiku")
	require.NoError(t, err)
	assert.Nil(t, regen.Reply)
	assert.Len(t, regen.Fork.MessageIDRemaps, 2)

	history, err := svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "edited haiku", history[1].Content)
}

func TestService_Regenerate_UnknownMessage(t *testing.T) {
	svc := New(createTestStore(t), &mockResponder{}, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)

	_, err = svc.Regenerate(ctx, sess.ID, store.NewMessageID(), "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_SendOnce_RetryRecordsNothing(t *testing.T) {
	testStore := createTestStore(t)
	responder := &mockResponder{chunks: []Chunk{{Text: "hi"}, {Done: true}}}
	svc := New(testStore, responder, nil, nil)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "")
	require.NoError(t, err)

	reply, err := svc.SendOnce(ctx, sess.ID, "req-1", "hello")
	require.NoError(t, err)
	drainReply(t, reply)

	_, err = svc.SendOnce(ctx, sess.ID, "req-1", "hello")
	require.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Contains(t, err.Error(), reply.UserMessage.ID.String())

	history, err := svc.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// Keys are scoped to a session.
	other, err := svc.Start(ctx, "")
	require.NoError(t, err)
	reply, err = svc.SendOnce(ctx, other.ID, "req-1", "hello")
	require.NoError(t, err)
	drainReply(t, reply)
}

func TestService_SendOnce_FailedAppendCanRetry(t *testing.T) {
	svc := New(createTestStore(t), &mockResponder{chunks: []Chunk{{Done: true}}}, nil, nil)
	ctx := context.Background()

	missing := store.NewSessionID()
	_, err := svc.SendOnce(ctx, missing, "req-1", "hello")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.SendOnce(ctx, missing, "req-1", "hello")
	assert.NotErrorIs(t, err, ErrDuplicateRequest)
}
