// ABOUTME: Conversation service coordinating the store, a streaming responder and subscribers
// ABOUTME: Record first, then act: every message is persisted before it is sent or shown

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/zova-store/internal/dedupe"
	"github.com/2389/zova-store/internal/store"
)

const (
	// saveTimeout bounds writes made after the caller's context may be gone.
	saveTimeout = 5 * time.Second

	requestTTL      = 10 * time.Minute
	maxRequestsSeen = 1024
)

// ErrDuplicateRequest is returned by SendOnce for a request key already seen.
var ErrDuplicateRequest = errors.New("duplicate request")

type requestKey struct {
	session store.SessionID
	key     string
}

// Agent event types recorded by the service.
const (
	EventUserMessage        = "user_message"
	EventAssistantCompleted = "assistant_completed"
	EventAssistantFailed    = "assistant_failed"
	EventHistoryForked      = "history_forked"
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	store.SessionStore
	store.MessageStore
	store.AgentEventStore
}

// Chunk is one piece of a streamed reply. The final chunk has Done set and
// may carry usage; a chunk with Err ends the stream.
type Chunk struct {
	Text  string
	Done  bool
	Err   error
	Usage *Usage
}

// Usage is token accounting reported by the responder.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Responder produces the assistant's reply to a history. It is the boundary
// to the LLM provider.
type Responder interface {
	Respond(ctx context.Context, history []*store.MessageRecord) (<-chan Chunk, error)
}

// Service is the central conversation layer that ensures all messages
// are persisted before being sent to the responder and as replies stream back.
type Service struct {
	store       ConversationStore
	responder   Responder
	broadcaster *EventBroadcaster
	requests    *dedupe.Cache[requestKey, store.MessageID]
	logger      *slog.Logger
}

// New creates a new Service. broadcaster and logger may be nil.
func New(st ConversationStore, responder Responder, broadcaster *EventBroadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		responder:   responder,
		broadcaster: broadcaster,
		requests:    dedupe.New[requestKey, store.MessageID](requestTTL, maxRequestsSeen, nil),
		logger:      logger.With("component", "conversation"),
	}
}

// Reply is a reply being streamed into a stored assistant message.
type Reply struct {
	SessionID store.SessionID
	// UserMessage is nil when the reply regenerates an edited history.
	UserMessage      *store.MessageRecord
	AssistantMessage *store.MessageRecord
	// Stream yields chunks after they have been persisted and closes when the
	// reply is complete.
	Stream <-chan Chunk
}

// Start creates a new conversation.
func (s *Service) Start(ctx context.Context, title string) (*store.SessionRecord, error) {
	if strings.TrimSpace(title) == "" {
		title = store.DefaultSessionTitle
	}
	sess, err := s.store.CreateSession(ctx, store.NewSession{Title: title})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Debug("session started", "session_id", sess.ID)
	return sess, nil
}

// History returns the messages on the session's active branch.
func (s *Service) History(ctx context.Context, sessionID store.SessionID) ([]*store.MessageRecord, error) {
	return s.store.ListMessages(ctx, sessionID)
}

// Send records the user message, then streams the responder's reply into a
// new assistant message.
//
// Key principle: Record first, then act. The user message is saved BEFORE
// the responder sees it, so there is a record even if the responder fails.
func (s *Service) Send(ctx context.Context, sessionID store.SessionID, content string) (*Reply, error) {
	_, reply, err := s.send(ctx, sessionID, content)
	return reply, err
}

// send also returns the user message when it was recorded but the reply
// could not be started.
func (s *Service) send(ctx context.Context, sessionID store.SessionID, content string) (*store.MessageRecord, *Reply, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil, errors.New("content is required")
	}

	userMsg, err := s.store.AppendMessage(ctx, sessionID, store.NewMessage{Role: store.RoleUser, Content: content})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record message: %w", err)
	}
	s.publish(sessionID, &Update{Kind: UpdateMessageAppended, SessionID: sessionID, Message: userMsg})
	s.recordEvent(sessionID, &userMsg.ID, EventUserMessage, map[string]any{
		"seq":   userMsg.Seq,
		"chars": len(content),
	})

	s.logger.Debug("user message recorded",
		"session_id", sessionID,
		"message_id", userMsg.ID,
		"seq", userMsg.Seq)

	reply, err := s.startReply(ctx, sessionID)
	if err != nil {
		return userMsg, nil, err
	}
	reply.UserMessage = userMsg
	return userMsg, reply, nil
}

// SendOnce is Send for clients that retry. A second call with the same
// request key within the window records nothing and returns an error
// wrapping ErrDuplicateRequest that names the message already stored.
func (s *Service) SendOnce(ctx context.Context, sessionID store.SessionID, requestKey string, content string) (*Reply, error) {
	if requestKey == "" {
		return s.Send(ctx, sessionID, content)
	}

	key := requestKeyFor(sessionID, requestKey)
	if prev, dup := s.requests.Remember(key, store.MessageID{}); dup {
		s.logger.Debug("duplicate request ignored",
			"session_id", sessionID,
			"request_key", requestKey)
		if prev.IsZero() {
			return nil, fmt.Errorf("%w: %s is in flight", ErrDuplicateRequest, requestKey)
		}
		return nil, fmt.Errorf("%w: %s already recorded as message %s", ErrDuplicateRequest, requestKey, prev)
	}

	userMsg, reply, err := s.send(ctx, sessionID, content)
	if userMsg == nil {
		s.requests.Forget(key)
		return nil, err
	}
	// Recorded, even if the reply failed: a retry must not record it again.
	s.requests.Store(key, userMsg.ID)
	return reply, err
}

func requestKeyFor(sessionID store.SessionID, key string) requestKey {
	return requestKey{session: sessionID, key: key}
}

// Regeneration is the result of editing an earlier message.
type Regeneration struct {
	Fork *store.HistoryForkOutcome
	// Reply is nil when the edited message was not a user message.
	Reply *Reply
}

// Regenerate replaces the content of an earlier message on a new branch and,
// when that message was the user's, streams a fresh reply to it. Callers use
// Fork.MessageIDRemaps to retarget any identifiers they hold.
func (s *Service) Regenerate(ctx context.Context, sessionID store.SessionID, messageID store.MessageID, replacement string) (*Regeneration, error) {
	source, err := s.store.GetMessage(ctx, sessionID, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading message to edit: %w", err)
	}

	fork, err := s.store.ForkFromHistory(ctx, sessionID, store.HistoryForkRequest{
		SourceMessageID:    messageID,
		ReplacementContent: replacement,
	})
	if err != nil {
		return nil, fmt.Errorf("forking history: %w", err)
	}
	s.publish(sessionID, &Update{Kind: UpdateHistoryForked, SessionID: sessionID, Fork: fork})

	newID := fork.MessageIDRemaps[len(fork.MessageIDRemaps)-1].NewMessageID
	s.recordEvent(sessionID, &newID, EventHistoryForked, map[string]any{
		"source_message_id": messageID.String(),
		"old_branch_id":     fork.PreviousBranchID.String(),
		"new_branch_id":     fork.NewBranchID.String(),
		"copied":            len(fork.MessageIDRemaps),
	})

	out := &Regeneration{Fork: fork}
	if source.Role != store.RoleUser {
		return out, nil
	}

	reply, err := s.startReply(ctx, sessionID)
	if err != nil {
		return out, err
	}
	out.Reply = reply
	return out, nil
}

// startReply appends an empty assistant message and hands the history to
// the responder.
func (s *Service) startReply(ctx context.Context, sessionID store.SessionID) (*Reply, error) {
	history, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	assistant, err := s.store.AppendMessage(ctx, sessionID, store.NewMessage{Role: store.RoleAssistant})
	if err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}
	s.publish(sessionID, &Update{Kind: UpdateMessageAppended, SessionID: sessionID, Message: assistant})

	chunks, err := s.responder.Respond(ctx, history)
	if err != nil {
		// The placeholder stays, empty, so history shows the failed turn.
		s.recordEvent(sessionID, &assistant.ID, EventAssistantFailed, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("responder failed: %w", err)
	}

	return &Reply{
		SessionID:        sessionID,
		AssistantMessage: assistant,
		Stream:           s.persistStream(ctx, assistant, chunks),
	}, nil
}

// persistStream writes each delta into the assistant message before
// forwarding it.
func (s *Service) persistStream(ctx context.Context, assistant *store.MessageRecord, in <-chan Chunk) <-chan Chunk {
	out := make(chan Chunk, 16)

	go func() {
		defer close(out)

		var (
			text  strings.Builder
			usage *Usage
			fail  error
		)

		for chunk := range in {
			switch {
			case chunk.Err != nil:
				fail = chunk.Err
			case chunk.Text != "":
				text.WriteString(chunk.Text)
				s.saveContent(assistant, text.String())
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				s.logger.Debug("context cancelled during reply streaming",
					"session_id", assistant.SessionID)
				fail = ctx.Err()
			}

			if fail != nil || chunk.Done {
				break
			}
		}
		// The responder may still be writing; never leave it blocked.
		go drain(in)

		if fail != nil {
			s.recordEvent(assistant.SessionID, &assistant.ID, EventAssistantFailed, map[string]any{
				"error": fail.Error(),
				"chars": text.Len(),
			})
			return
		}

		payload := map[string]any{"chars": text.Len()}
		if usage != nil {
			payload["usage"] = usage
		}
		s.recordEvent(assistant.SessionID, &assistant.ID, EventAssistantCompleted, payload)
	}()

	return out
}

// saveContent updates the streaming message with a separate timeout context.
func (s *Service) saveContent(msg *store.MessageRecord, content string) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	updated, err := s.store.UpdateMessage(saveCtx, msg.SessionID, msg.ID, store.MessagePatch{Content: &content})
	if err != nil {
		s.logger.Error("failed to save reply content",
			"error", err,
			"session_id", msg.SessionID,
			"message_id", msg.ID)
		return
	}
	s.publish(msg.SessionID, &Update{Kind: UpdateMessageEdited, SessionID: msg.SessionID, Message: updated})
}

// recordEvent appends an agent event with a separate timeout context.
// Failures are logged, not returned: telemetry never fails a turn.
func (s *Service) recordEvent(sessionID store.SessionID, messageID *store.MessageID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode agent event", "error", err, "event_type", eventType)
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	_, err = s.store.AppendAgentEvent(saveCtx, sessionID, store.NewAgentEvent{
		MessageID:   messageID,
		EventType:   eventType,
		PayloadJSON: string(data),
	})
	if err != nil {
		s.logger.Error("failed to record agent event",
			"error", err,
			"session_id", sessionID,
			"event_type", eventType)
	}
}

func drain(in <-chan Chunk) {
	for range in {
	}
}

func (s *Service) publish(sessionID store.SessionID, update *Update) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(sessionID, update, "")
}
