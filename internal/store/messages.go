// ABOUTME: Message persistence for SQLiteStore, always against the session's active branch
// ABOUTME: Includes the copy-on-write history fork used by edit-and-regenerate

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const messageColumns = `id, session_id, branch_id, seq, role, content, created_at, updated_at, deleted_at`

// AppendMessage adds a message to the end of the session's active branch.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID SessionID, in NewMessage) (*MessageRecord, error) {
	return call(ctx, s, "message-append", func(ctx context.Context) (*MessageRecord, error) {
		if _, err := ParseMessageRole(string(in.Role)); err != nil {
			return nil, conflict("message-append", "message", fmt.Sprintf("unknown role %q", in.Role))
		}

		var rec *MessageRecord
		err := s.inTx(ctx, "message-append", func(tx *sql.Tx) error {
			branchID, err := loadActiveBranch(ctx, tx, sessionID, "message-append")
			if err != nil {
				return err
			}

			var seq int64
			err = tx.QueryRowContext(ctx, `
				SELECT COALESCE(MAX(seq), 0) + 1 FROM messages
				WHERE session_id = ? AND branch_id = ?
			`, sessionID, branchID).Scan(&seq)
			if err != nil {
				return queryErr("message-append-next-seq", err)
			}

			now := s.nowUnix()
			rec = &MessageRecord{
				ID:         NewMessageID(),
				SessionID:  sessionID,
				BranchID:   branchID,
				Seq:        seq,
				Role:       in.Role,
				Content:    in.Content,
				CreatedAt:  unixTime(now),
				UpdatedAt:  unixTime(now),
				Visibility: Active(),
			}
			return insertMessage(ctx, tx, rec, now, "message-append")
		})
		if err != nil {
			return nil, err
		}

		s.logger.Debug("appended message",
			"session_id", sessionID,
			"message_id", rec.ID,
			"seq", rec.Seq)
		return rec, nil
	})
}

func insertMessage(ctx context.Context, q queryer, m *MessageRecord, at int64, stage string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, branch_id, seq, role, content, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, m.ID, m.SessionID, m.BranchID, m.Seq, string(m.Role), m.Content, at, at)
	if err != nil {
		return queryErr(stage+"-insert", err)
	}
	return nil
}

// ListMessages returns the visible messages on the active branch in seq order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID SessionID) ([]*MessageRecord, error) {
	return call(ctx, s, "message-list", func(ctx context.Context) ([]*MessageRecord, error) {
		branchID, err := loadActiveBranch(ctx, s.db, sessionID, "message-list")
		if err != nil {
			return nil, err
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE session_id = ? AND branch_id = ? AND deleted_at IS NULL
			ORDER BY seq ASC, id ASC
		`, sessionID, branchID)
		if err != nil {
			return nil, queryErr("message-list-query", err)
		}
		defer rows.Close()

		var messages []*MessageRecord
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return nil, queryErr("message-list-scan", err)
			}
			messages = append(messages, m)
		}
		if err := rows.Err(); err != nil {
			return nil, queryErr("message-list-rows", err)
		}
		return messages, nil
	})
}

// GetMessage returns a visible message only if it belongs to sessionID.
func (s *SQLiteStore) GetMessage(ctx context.Context, sessionID SessionID, id MessageID) (*MessageRecord, error) {
	return call(ctx, s, "message-get", func(ctx context.Context) (*MessageRecord, error) {
		return getMessage(ctx, s.db, sessionID, id, "message-get")
	})
}

func getMessage(ctx context.Context, q queryer, sessionID SessionID, id MessageID, stage string) (*MessageRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE session_id = ? AND id = ? AND deleted_at IS NULL
	`, sessionID, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(stage, "message", id.String())
	}
	if err != nil {
		return nil, queryErr(stage+"-query", err)
	}
	return m, nil
}

// UpdateMessage patches content in place, e.g. while a reply streams in.
// The message must belong to sessionID.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, sessionID SessionID, id MessageID, patch MessagePatch) (*MessageRecord, error) {
	return call(ctx, s, "message-update", func(ctx context.Context) (*MessageRecord, error) {
		result, err := s.db.ExecContext(ctx, `
			UPDATE messages SET content = COALESCE(?, content), updated_at = ?
			WHERE session_id = ? AND id = ? AND deleted_at IS NULL
		`, patch.Content, s.nowUnix(), sessionID, id)
		if err != nil {
			return nil, queryErr("message-update-exec", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, notFound("message-update", "message", id.String())
		}
		return getMessage(ctx, s.db, sessionID, id, "message-update-reload")
	})
}

// ForkFromHistory copies the active branch up to and including the source
// message onto a new branch, with the source content replaced, makes the new
// branch active and soft-deletes the old one. All in one transaction.
func (s *SQLiteStore) ForkFromHistory(ctx context.Context, sessionID SessionID, req HistoryForkRequest) (*HistoryForkOutcome, error) {
	return call(ctx, s, "message-fork", func(ctx context.Context) (*HistoryForkOutcome, error) {
		var out *HistoryForkOutcome
		err := s.inTx(ctx, "message-fork", func(tx *sql.Tx) error {
			oldBranch, err := loadActiveBranch(ctx, tx, sessionID, "message-fork-load-active-branch")
			if err != nil {
				return err
			}

			var sourceSeq int64
			err = tx.QueryRowContext(ctx, `
				SELECT seq FROM messages
				WHERE session_id = ? AND branch_id = ? AND id = ? AND deleted_at IS NULL
			`, sessionID, oldBranch, req.SourceMessageID).Scan(&sourceSeq)
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("message-fork-load-source", "message", req.SourceMessageID.String())
			}
			if err != nil {
				return queryErr("message-fork-load-source", err)
			}

			now := s.nowUnix()
			newBranch := NewBranchID()
			_, err = tx.ExecContext(ctx, `
				INSERT INTO branches (id, session_id, parent_branch_id, created_at, deleted_at)
				VALUES (?, ?, ?, ?, NULL)
			`, newBranch, sessionID, oldBranch, now)
			if err != nil {
				return queryErr("message-fork-insert-branch", err)
			}

			prefix, err := loadPrefix(ctx, tx, sessionID, oldBranch, sourceSeq)
			if err != nil {
				return err
			}
			if len(prefix) == 0 {
				return invariant("message-fork-load-prefix", "fork prefix is empty")
			}

			remaps := make([]MessageIDRemap, 0, len(prefix))
			for _, m := range prefix {
				clone := *m
				clone.ID = NewMessageID()
				clone.BranchID = newBranch
				if m.ID == req.SourceMessageID {
					clone.Content = req.ReplacementContent
				}
				if err := insertMessage(ctx, tx, &clone, now, "message-fork-copy"); err != nil {
					return err
				}
				remaps = append(remaps, MessageIDRemap{OldMessageID: m.ID, NewMessageID: clone.ID})
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE sessions SET active_branch_id = ?, updated_at = ? WHERE id = ?
			`, newBranch, now, sessionID)
			if err != nil {
				return queryErr("message-fork-activate-branch", err)
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE branches SET deleted_at = ? WHERE id = ? AND session_id = ?
			`, now, oldBranch, sessionID)
			if err != nil {
				return queryErr("message-fork-retire-branch", err)
			}

			out = &HistoryForkOutcome{
				NewBranchID:      newBranch,
				PreviousBranchID: oldBranch,
				MessageIDRemaps:  remaps,
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.logger.Info("forked history",
			"session_id", sessionID,
			"source_message_id", req.SourceMessageID,
			"old_branch_id", out.PreviousBranchID,
			"new_branch_id", out.NewBranchID,
			"copied", len(out.MessageIDRemaps))
		return out, nil
	})
}

func loadPrefix(ctx context.Context, tx *sql.Tx, sessionID SessionID, branchID BranchID, throughSeq int64) ([]*MessageRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE session_id = ? AND branch_id = ? AND seq <= ? AND deleted_at IS NULL
		ORDER BY seq ASC, id ASC
	`, sessionID, branchID, throughSeq)
	if err != nil {
		return nil, queryErr("message-fork-load-prefix", err)
	}
	defer rows.Close()

	var prefix []*MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, queryErr("message-fork-load-prefix-scan", err)
		}
		prefix = append(prefix, m)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("message-fork-load-prefix-rows", err)
	}
	return prefix, nil
}

// loadActiveBranch resolves the branch new messages go to. Soft-deleted
// sessions have none.
func loadActiveBranch(ctx context.Context, q queryer, sessionID SessionID, stage string) (BranchID, error) {
	var raw sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT active_branch_id FROM sessions WHERE id = ? AND deleted_at IS NULL
	`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return BranchID{}, notFound(stage, "session", sessionID.String())
	}
	if err != nil {
		return BranchID{}, queryErr(stage, err)
	}
	if !raw.Valid || raw.String == "" {
		return BranchID{}, invariant(stage, fmt.Sprintf("session %s has no active branch", sessionID))
	}
	id, err := ParseBranchID(raw.String)
	if err != nil {
		return BranchID{}, invariant(stage, fmt.Sprintf("session %s has malformed active branch %q", sessionID, raw.String))
	}
	return id, nil
}

func scanMessage(row rowScanner) (*MessageRecord, error) {
	var (
		m         MessageRecord
		role      string
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.BranchID, &m.Seq, &role, &m.Content, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	r, err := ParseMessageRole(role)
	if err != nil {
		return nil, err
	}
	m.Role = r
	m.CreatedAt = unixTime(createdAt)
	m.UpdatedAt = unixTime(updatedAt)
	m.Visibility = visibilityOf(deletedAt)
	return &m, nil
}
