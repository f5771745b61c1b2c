// ABOUTME: Record, input and patch types for sessions, messages, media refs and agent events
// ABOUTME: Plain values handed to callers; nothing here touches the database

package store

import (
	"fmt"
	"time"

	"github.com/2389/zova-store/internal/legacy"
)

// DefaultSessionTitle is used when an imported title is empty.
const DefaultSessionTitle = legacy.DefaultTitle

// Visibility is the soft-delete state of a row.
type Visibility struct {
	deletedAt time.Time
	deleted   bool
}

// Active is the visibility of a row that has not been soft-deleted.
func Active() Visibility { return Visibility{} }

// DeletedAt is the visibility of a row soft-deleted at t.
func DeletedAt(t time.Time) Visibility {
	return Visibility{deletedAt: t.UTC(), deleted: true}
}

func (v Visibility) IsDeleted() bool { return v.deleted }

// DeletedTime returns the tombstone time and whether the row is deleted.
func (v Visibility) DeletedTime() (time.Time, bool) {
	return v.deletedAt, v.deleted
}

func (v Visibility) String() string {
	if !v.deleted {
		return "active"
	}
	return "deleted@" + v.deletedAt.Format(time.RFC3339)
}

// MessageRole is who authored a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ParseMessageRole converts a stored role string. Unknown values mean the
// row was written by something other than this package.
func ParseMessageRole(s string) (MessageRole, error) {
	switch MessageRole(s) {
	case RoleSystem, RoleUser, RoleAssistant:
		return MessageRole(s), nil
	}
	return "", invariant("parse-message-role", fmt.Sprintf("unknown message role %q", s))
}

// SessionRecord is a stored conversation.
type SessionRecord struct {
	ID             SessionID
	Title          string
	ActiveBranchID BranchID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Visibility     Visibility
}

type NewSession struct {
	Title string
}

// SessionPatch changes the fields that are set; nil means unchanged.
type SessionPatch struct {
	Title *string
}

// BranchRecord is one line of history within a session.
type BranchRecord struct {
	ID             BranchID
	SessionID      SessionID
	ParentBranchID *BranchID
	CreatedAt      time.Time
	Visibility     Visibility
}

// MessageRecord is a stored message on a branch.
type MessageRecord struct {
	ID         MessageID
	SessionID  SessionID
	BranchID   BranchID
	Seq        int64
	Role       MessageRole
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Visibility Visibility
}

type NewMessage struct {
	Role    MessageRole
	Content string
}

// MessagePatch changes the fields that are set; nil means unchanged.
type MessagePatch struct {
	Content *string
}

// HistoryForkRequest edits an earlier message by forking a new branch.
type HistoryForkRequest struct {
	SourceMessageID    MessageID
	ReplacementContent string
}

// MessageIDRemap maps a message on the superseded branch to its copy.
type MessageIDRemap struct {
	OldMessageID MessageID
	NewMessageID MessageID
}

// HistoryForkOutcome is the new branch and the remaps in prefix order.
type HistoryForkOutcome struct {
	NewBranchID      BranchID
	PreviousBranchID BranchID
	MessageIDRemaps  []MessageIDRemap
}

// MediaRefRecord points at an attachment stored outside the database.
type MediaRefRecord struct {
	ID         MediaRefID
	SessionID  SessionID
	MessageID  MessageID
	URI        string
	MimeType   string
	SizeBytes  int64
	DurationMS *int64
	WidthPx    *int64
	HeightPx   *int64
	SHA256Hex  *string
	CreatedAt  time.Time
	Visibility Visibility
}

type NewMediaRef struct {
	URI        string
	MimeType   string
	SizeBytes  int64
	DurationMS *int64
	WidthPx    *int64
	HeightPx   *int64
	SHA256Hex  *string
}

// AgentEventRecord is an immutable telemetry entry for a session or message.
type AgentEventRecord struct {
	ID          AgentEventID
	SessionID   SessionID
	MessageID   *MessageID
	EventType   string
	PayloadJSON string
	CreatedAt   time.Time
}

type NewAgentEvent struct {
	MessageID   *MessageID
	EventType   string
	PayloadJSON string
}

// LegacyImportWarning describes one skipped legacy row.
type LegacyImportWarning struct {
	LineNumber int
	Reason     string
}

// LegacyImportReport summarizes one import attempt.
type LegacyImportReport struct {
	SourcePath       string
	SourceMissing    bool
	ImportedSessions int
	SkippedRows      int
	Warnings         []LegacyImportWarning
	AlreadyMigrated  bool
}

// SchemaReport is what the live connection says about pragmas and tables.
type SchemaReport struct {
	JournalMode   string
	ForeignKeys   int
	BusyTimeoutMS int
	Tables        []string
}

// RequiredTables lists the tables every opened store must contain.
var RequiredTables = []string{"sessions", "branches", "messages", "media_refs", "agent_events"}

// MissingTables returns the required tables absent from the report.
func (r SchemaReport) MissingTables() []string {
	have := make(map[string]bool, len(r.Tables))
	for _, t := range r.Tables {
		have[t] = true
	}
	var missing []string
	for _, t := range RequiredTables {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

// Healthy reports whether the pragmas and tables match what Open sets up.
func (r SchemaReport) Healthy() bool {
	return r.JournalMode == "wal" && r.ForeignKeys == 1 &&
		r.BusyTimeoutMS == busyTimeoutMS && len(r.MissingTables()) == 0
}
