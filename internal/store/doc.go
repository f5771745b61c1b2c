// Package store persists zova conversations in a single SQLite file.
//
// # Architecture
//
// Four narrow interfaces cover the entities:
//
//   - SessionStore: sessions and their active branch
//   - MessageStore: messages on the active branch, plus ForkFromHistory
//   - MediaStore: attachment references on messages
//   - AgentEventStore: append-only JSON telemetry
//
// SQLiteStore implements all of them (and Storage, their union). Every method
// blocks until a worker from a fixed pool has run the call; the pool drains a
// bounded queue so callers are never handed a goroutine per call.
//
// # Data Model
//
//   - Session: title, active branch, tombstone
//   - Branch: one line of history; forks point at their parent
//   - Message: seq is 1-based per (session, branch) and never reused
//   - MediaRef: URI and metadata only, never inline data
//   - AgentEvent: immutable, payload must be valid JSON
//
// Soft-deleted rows carry a Visibility of DeletedAt(t) instead of being removed.
//
// # SQLite Configuration
//
// Every connection runs with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// SchemaReport reads these back together with the table list.
//
// # Error Handling
//
// Every failure is an *Error with a Kind and a stage tag. Match kinds with
// errors.Is against ErrNotFound, ErrConflict, ErrInvalidID,
// ErrInvariantViolation and ErrClosed.
//
// # Migrations
//
// Migrations are embedded from internal/store/migrations and applied by
// golang-migrate when the store is opened.
//
// # Legacy Import
//
// ImportLegacy and ImportLegacyFile bring in the old TSV conversation list
// exactly once: if any session exists the import is skipped.
package store
