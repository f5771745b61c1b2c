// ABOUTME: Typed identifiers for sessions, branches, messages, media refs and agent events
// ABOUTME: One generic UUIDv7 wrapper keeps identifiers of different entities from mixing

package store

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// idKind tags an ID with the entity it identifies. The kinds are unexported so
// the only instantiations of ID are the aliases below.
type idKind interface {
	idType() string
}

type (
	sessionKind    struct{}
	branchKind     struct{}
	messageKind    struct{}
	mediaRefKind   struct{}
	agentEventKind struct{}
)

func (sessionKind) idType() string    { return "session-id" }
func (branchKind) idType() string     { return "branch-id" }
func (messageKind) idType() string    { return "message-id" }
func (mediaRefKind) idType() string   { return "media-ref-id" }
func (agentEventKind) idType() string { return "agent-event-id" }

// ID is a time-ordered identifier for one kind of entity. IDs of different
// kinds are distinct types and never convert into each other.
type ID[K idKind] struct {
	u uuid.UUID
}

type (
	SessionID    = ID[sessionKind]
	BranchID     = ID[branchKind]
	MessageID    = ID[messageKind]
	MediaRefID   = ID[mediaRefKind]
	AgentEventID = ID[agentEventKind]
)

func newID[K idKind]() ID[K] {
	return ID[K]{u: uuid.Must(uuid.NewV7())}
}

// NewSessionID allocates a fresh session id.
func NewSessionID() SessionID { return newID[sessionKind]() }

// NewBranchID allocates a fresh branch id.
func NewBranchID() BranchID { return newID[branchKind]() }

// NewMessageID allocates a fresh message id.
func NewMessageID() MessageID { return newID[messageKind]() }

// NewMediaRefID allocates a fresh media ref id.
func NewMediaRefID() MediaRefID { return newID[mediaRefKind]() }

// NewAgentEventID allocates a fresh agent event id.
func NewAgentEventID() AgentEventID { return newID[agentEventKind]() }

func parseID[K idKind](raw string) (ID[K], error) {
	u, err := uuid.Parse(raw)
	if err != nil {
		var k K
		return ID[K]{}, &Error{
			Kind:   KindInvalidID,
			Stage:  "parse-id",
			IDType: k.idType(),
			Raw:    raw,
			Err:    err,
		}
	}
	return ID[K]{u: u}, nil
}

func ParseSessionID(raw string) (SessionID, error)       { return parseID[sessionKind](raw) }
func ParseBranchID(raw string) (BranchID, error)         { return parseID[branchKind](raw) }
func ParseMessageID(raw string) (MessageID, error)       { return parseID[messageKind](raw) }
func ParseMediaRefID(raw string) (MediaRefID, error)     { return parseID[mediaRefKind](raw) }
func ParseAgentEventID(raw string) (AgentEventID, error) { return parseID[agentEventKind](raw) }

// String returns the canonical hyphenated text form.
func (id ID[K]) String() string { return id.u.String() }

// IDType names the entity kind, e.g. "session-id".
func (id ID[K]) IDType() string {
	var k K
	return k.idType()
}

// UUID exposes the underlying value.
func (id ID[K]) UUID() uuid.UUID { return id.u }

func (id ID[K]) IsZero() bool { return id.u == uuid.Nil }

// Compare orders ids by their underlying bytes, which for v7 values is
// creation order.
func (id ID[K]) Compare(other ID[K]) int {
	for i := range id.u {
		if id.u[i] != other.u[i] {
			if id.u[i] < other.u[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (id ID[K]) MarshalText() ([]byte, error) {
	return []byte(id.u.String()), nil
}

func (id *ID[K]) UnmarshalText(b []byte) error {
	parsed, err := parseID[K](string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores ids as canonical TEXT.
func (id ID[K]) Value() (driver.Value, error) {
	return id.u.String(), nil
}

// Scan reads an id back from a TEXT column.
func (id *ID[K]) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	default:
		return fmt.Errorf("scanning %s: unsupported type %T", id.IDType(), src)
	}
}
