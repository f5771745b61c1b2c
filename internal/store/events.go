// ABOUTME: Agent event log persistence for SQLiteStore
// ABOUTME: Append-only JSON telemetry scoped to a session or one of its messages

package store

import (
	"context"
	"database/sql"
	"strings"
)

const agentEventColumns = `id, session_id, message_id, event_type, payload_json, created_at`

// AppendAgentEvent records an event against a live session, or against a
// visible message of that session when MessageID is set.
func (s *SQLiteStore) AppendAgentEvent(ctx context.Context, sessionID SessionID, in NewAgentEvent) (*AgentEventRecord, error) {
	return call(ctx, s, "agent-event-append", func(ctx context.Context) (*AgentEventRecord, error) {
		if in.MessageID != nil {
			if err := ensureMessageInSession(ctx, s.db, sessionID, *in.MessageID, "agent-event-append"); err != nil {
				return nil, err
			}
		}
		if err := ensureLiveSession(ctx, s.db, sessionID, "agent-event-append"); err != nil {
			return nil, err
		}
		if strings.TrimSpace(in.EventType) == "" {
			return nil, conflict("agent-event-append", "agent_event", "event_type must not be empty")
		}

		var valid bool
		if err := s.db.QueryRowContext(ctx, `SELECT json_valid(?)`, in.PayloadJSON).Scan(&valid); err != nil {
			return nil, queryErr("agent-event-append-validate", err)
		}
		if !valid {
			return nil, conflict("agent-event-append", "agent_event", "payload_json must be valid canonical JSON text")
		}

		now := s.nowUnix()
		rec := &AgentEventRecord{
			ID:          NewAgentEventID(),
			SessionID:   sessionID,
			MessageID:   in.MessageID,
			EventType:   in.EventType,
			PayloadJSON: in.PayloadJSON,
			CreatedAt:   unixTime(now),
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_events (`+agentEventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.ID, sessionID, in.MessageID, rec.EventType, rec.PayloadJSON, now)
		if err != nil {
			return nil, queryErr("agent-event-append-insert", err)
		}

		s.logger.Debug("appended agent event",
			"session_id", sessionID,
			"event_id", rec.ID,
			"event_type", rec.EventType)
		return rec, nil
	})
}

// ListAgentEvents returns a session's events in creation order, optionally
// only those attached to one message.
func (s *SQLiteStore) ListAgentEvents(ctx context.Context, sessionID SessionID, messageID *MessageID) ([]*AgentEventRecord, error) {
	return call(ctx, s, "agent-event-list", func(ctx context.Context) ([]*AgentEventRecord, error) {
		if err := ensureSessionExists(ctx, s.db, sessionID, "agent-event-list"); err != nil {
			return nil, err
		}

		query := `SELECT ` + agentEventColumns + ` FROM agent_events WHERE session_id = ?`
		args := []any{sessionID}
		if messageID != nil {
			query += ` AND message_id = ?`
			args = append(args, *messageID)
		}
		query += ` ORDER BY created_at ASC, id ASC`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, queryErr("agent-event-list-query", err)
		}
		defer rows.Close()

		var events []*AgentEventRecord
		for rows.Next() {
			var (
				rec       AgentEventRecord
				msgID     sql.NullString
				createdAt int64
			)
			if err := rows.Scan(&rec.ID, &rec.SessionID, &msgID, &rec.EventType, &rec.PayloadJSON, &createdAt); err != nil {
				return nil, queryErr("agent-event-list-scan", err)
			}
			if msgID.Valid {
				id, err := ParseMessageID(msgID.String)
				if err != nil {
					return nil, err
				}
				rec.MessageID = &id
			}
			rec.CreatedAt = unixTime(createdAt)
			events = append(events, &rec)
		}
		if err := rows.Err(); err != nil {
			return nil, queryErr("agent-event-list-rows", err)
		}
		return events, nil
	})
}
