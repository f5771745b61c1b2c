// ABOUTME: Store interfaces for zova conversation persistence
// ABOUTME: Four narrow capability interfaces, each scoped by session id, plus their union

package store

import (
	"context"
	"io/fs"
)

// SessionStore manages conversations and their active branch.
type SessionStore interface {
	CreateSession(ctx context.Context, in NewSession) (*SessionRecord, error)
	ListSessions(ctx context.Context, includeDeleted bool) ([]*SessionRecord, error)
	GetSession(ctx context.Context, id SessionID) (*SessionRecord, error)
	UpdateSession(ctx context.Context, id SessionID, patch SessionPatch) (*SessionRecord, error)
	SoftDeleteSession(ctx context.Context, id SessionID) error
	RestoreSession(ctx context.Context, id SessionID) error
}

// MessageStore manages messages on a session's active branch.
type MessageStore interface {
	AppendMessage(ctx context.Context, sessionID SessionID, in NewMessage) (*MessageRecord, error)
	ListMessages(ctx context.Context, sessionID SessionID) ([]*MessageRecord, error)
	GetMessage(ctx context.Context, sessionID SessionID, id MessageID) (*MessageRecord, error)
	UpdateMessage(ctx context.Context, sessionID SessionID, id MessageID, patch MessagePatch) (*MessageRecord, error)
	ForkFromHistory(ctx context.Context, sessionID SessionID, req HistoryForkRequest) (*HistoryForkOutcome, error)
}

// MediaStore manages attachment references on messages.
type MediaStore interface {
	AttachMedia(ctx context.Context, sessionID SessionID, messageID MessageID, in NewMediaRef) (*MediaRefRecord, error)
	ListMedia(ctx context.Context, sessionID SessionID, messageID MessageID, includeDeleted bool) ([]*MediaRefRecord, error)
	SoftDeleteMedia(ctx context.Context, sessionID SessionID, messageID MessageID, id MediaRefID) error
}

// AgentEventStore manages the append-only agent event log.
type AgentEventStore interface {
	AppendAgentEvent(ctx context.Context, sessionID SessionID, in NewAgentEvent) (*AgentEventRecord, error)
	ListAgentEvents(ctx context.Context, sessionID SessionID, messageID *MessageID) ([]*AgentEventRecord, error)
}

// Storage is everything the SQLite engine provides.
type Storage interface {
	SessionStore
	MessageStore
	MediaStore
	AgentEventStore

	ListBranches(ctx context.Context, sessionID SessionID) ([]*BranchRecord, error)
	ImportLegacy(ctx context.Context, fsys fs.FS, name string) (*LegacyImportReport, error)
	SchemaReport(ctx context.Context) (*SchemaReport, error)
	Close() error
}

// Ensure SQLiteStore implements all interfaces
var (
	_ SessionStore    = (*SQLiteStore)(nil)
	_ MessageStore    = (*SQLiteStore)(nil)
	_ MediaStore      = (*SQLiteStore)(nil)
	_ AgentEventStore = (*SQLiteStore)(nil)
	_ Storage         = (*SQLiteStore)(nil)
)
