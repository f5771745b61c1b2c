// ABOUTME: In-memory fan-out of persisted conversation updates
// ABOUTME: Publishes message and fork updates to every subscriber of a session

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/zova-store/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// UpdateKind says what changed in a session.
type UpdateKind string

const (
	UpdateMessageAppended UpdateKind = "message_appended"
	UpdateMessageEdited   UpdateKind = "message_edited"
	UpdateHistoryForked   UpdateKind = "history_forked"
)

// Update is a change that has already been written to the store.
type Update struct {
	Kind      UpdateKind
	SessionID store.SessionID
	Message   *store.MessageRecord
	Fork      *store.HistoryForkOutcome
}

// EventBroadcaster provides in-memory pub/sub for persisted updates.
// Subscribers register for a session and receive updates as they are
// persisted, so several views of one conversation stay in sync.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[store.SessionID]map[string]chan *Update // sessionID -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[store.SessionID]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for updates on the given session.
// Returns a channel that receives updates and a subscription ID for later
// unsubscription. The subscription is cleaned up when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, sessionID store.SessionID) (<-chan *Update, string) {
	subID := uuid.NewString()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan *Update)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"session_id", sessionID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish sends an update to all subscribers of the given session.
// If excludeSubID is non-empty, that subscriber is skipped.
// Non-blocking: updates are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(sessionID store.SessionID, update *Update, excludeSubID string) {
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[sessionID] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- update:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"session_id", sessionID,
				"sub_id", id,
				"kind", update.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(sessionID store.SessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("subscriber removed",
		"session_id", sessionID,
		"sub_id", subID)
}

// SubscriberCount returns how many subscribers a session has.
func (b *EventBroadcaster) SubscriberCount(sessionID store.SessionID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("broadcaster closed")
}
