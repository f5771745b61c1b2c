// ABOUTME: Session and branch persistence for SQLiteStore
// ABOUTME: Create, list, rename, soft-delete and restore sessions; list a session's branches

package store

import (
	"context"
	"database/sql"
	"errors"
)

const sessionColumns = `id, title, active_branch_id, created_at, updated_at, deleted_at`

// CreateSession inserts a session and its empty root branch in one transaction.
func (s *SQLiteStore) CreateSession(ctx context.Context, in NewSession) (*SessionRecord, error) {
	return call(ctx, s, "session-create", func(ctx context.Context) (*SessionRecord, error) {
		rec := &SessionRecord{
			ID:             NewSessionID(),
			Title:          in.Title,
			ActiveBranchID: NewBranchID(),
			Visibility:     Active(),
		}
		now := s.nowUnix()
		rec.CreatedAt = unixTime(now)
		rec.UpdatedAt = rec.CreatedAt

		err := s.inTx(ctx, "session-create", func(tx *sql.Tx) error {
			return insertSessionWithRootBranch(ctx, tx, rec.ID, rec.ActiveBranchID, rec.Title, now, "session-create")
		})
		if err != nil {
			return nil, err
		}

		s.logger.Debug("created session", "session_id", rec.ID, "branch_id", rec.ActiveBranchID)
		return rec, nil
	})
}

// insertSessionWithRootBranch writes the session row first; its reference to
// the branch is a deferred constraint checked at commit.
func insertSessionWithRootBranch(ctx context.Context, tx *sql.Tx, id SessionID, branchID BranchID, title string, at int64, stage string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, active_branch_id, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, NULL)
	`, id, title, branchID, at, at)
	if err != nil {
		return queryErr(stage+"-insert-session", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches (id, session_id, parent_branch_id, created_at, deleted_at)
		VALUES (?, ?, NULL, ?, NULL)
	`, branchID, id, at)
	if err != nil {
		return queryErr(stage+"-insert-branch", err)
	}
	return nil
}

// ListSessions returns sessions newest first, ties broken by id descending.
func (s *SQLiteStore) ListSessions(ctx context.Context, includeDeleted bool) ([]*SessionRecord, error) {
	return call(ctx, s, "session-list", func(ctx context.Context) ([]*SessionRecord, error) {
		query := `SELECT ` + sessionColumns + ` FROM sessions`
		if !includeDeleted {
			query += ` WHERE deleted_at IS NULL`
		}
		query += ` ORDER BY updated_at DESC, id DESC`

		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, queryErr("session-list-query", err)
		}
		defer rows.Close()

		var sessions []*SessionRecord
		for rows.Next() {
			rec, err := scanSession(rows)
			if err != nil {
				return nil, queryErr("session-list-scan", err)
			}
			sessions = append(sessions, rec)
		}
		if err := rows.Err(); err != nil {
			return nil, queryErr("session-list-rows", err)
		}
		return sessions, nil
	})
}

// GetSession returns a session whether or not it is soft-deleted.
func (s *SQLiteStore) GetSession(ctx context.Context, id SessionID) (*SessionRecord, error) {
	return call(ctx, s, "session-get", func(ctx context.Context) (*SessionRecord, error) {
		return getSession(ctx, s.db, id, "session-get")
	})
}

func getSession(ctx context.Context, q queryer, id SessionID, stage string) (*SessionRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(stage, "session", id.String())
	}
	if err != nil {
		return nil, queryErr(stage+"-query", err)
	}
	return rec, nil
}

// UpdateSession applies the patch and bumps updated_at.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id SessionID, patch SessionPatch) (*SessionRecord, error) {
	return call(ctx, s, "session-update", func(ctx context.Context) (*SessionRecord, error) {
		result, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET title = COALESCE(?, title), updated_at = ?
			WHERE id = ?
		`, patch.Title, s.nowUnix(), id)
		if err != nil {
			return nil, queryErr("session-update-exec", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil, notFound("session-update", "session", id.String())
		}
		return getSession(ctx, s.db, id, "session-update-reload")
	})
}

// SoftDeleteSession tombstones a session. Deleting an already deleted
// session is a no-op.
func (s *SQLiteStore) SoftDeleteSession(ctx context.Context, id SessionID) error {
	_, err := call(ctx, s, "session-soft-delete", func(ctx context.Context) (struct{}, error) {
		now := s.nowUnix()
		result, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET deleted_at = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`, now, now, id)
		if err != nil {
			return struct{}{}, queryErr("session-soft-delete-exec", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return struct{}{}, ensureSessionExists(ctx, s.db, id, "session-soft-delete")
		}
		s.logger.Debug("soft-deleted session", "session_id", id)
		return struct{}{}, nil
	})
	return err
}

// RestoreSession clears a session's tombstone. Restoring an active session
// is a no-op.
func (s *SQLiteStore) RestoreSession(ctx context.Context, id SessionID) error {
	_, err := call(ctx, s, "session-restore", func(ctx context.Context) (struct{}, error) {
		result, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET deleted_at = NULL, updated_at = ?
			WHERE id = ? AND deleted_at IS NOT NULL
		`, s.nowUnix(), id)
		if err != nil {
			return struct{}{}, queryErr("session-restore-exec", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return struct{}{}, ensureSessionExists(ctx, s.db, id, "session-restore")
		}
		s.logger.Debug("restored session", "session_id", id)
		return struct{}{}, nil
	})
	return err
}

// ListBranches returns every branch of a session, oldest first, including
// branches superseded by a fork.
func (s *SQLiteStore) ListBranches(ctx context.Context, sessionID SessionID) ([]*BranchRecord, error) {
	return call(ctx, s, "branch-list", func(ctx context.Context) ([]*BranchRecord, error) {
		if err := ensureSessionExists(ctx, s.db, sessionID, "branch-list"); err != nil {
			return nil, err
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, session_id, parent_branch_id, created_at, deleted_at
			FROM branches WHERE session_id = ?
			ORDER BY created_at ASC, id ASC
		`, sessionID)
		if err != nil {
			return nil, queryErr("branch-list-query", err)
		}
		defer rows.Close()

		var branches []*BranchRecord
		for rows.Next() {
			var (
				b         BranchRecord
				parent    sql.NullString
				createdAt int64
				deletedAt sql.NullInt64
			)
			if err := rows.Scan(&b.ID, &b.SessionID, &parent, &createdAt, &deletedAt); err != nil {
				return nil, queryErr("branch-list-scan", err)
			}
			if parent.Valid {
				pid, err := ParseBranchID(parent.String)
				if err != nil {
					return nil, err
				}
				b.ParentBranchID = &pid
			}
			b.CreatedAt = unixTime(createdAt)
			b.Visibility = visibilityOf(deletedAt)
			branches = append(branches, &b)
		}
		if err := rows.Err(); err != nil {
			return nil, queryErr("branch-list-rows", err)
		}
		return branches, nil
	})
}

// ensureSessionExists returns NotFound when no session row has this id,
// deleted or not.
func ensureSessionExists(ctx context.Context, q queryer, id SessionID, stage string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ? LIMIT 1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(stage, "session", id.String())
	}
	if err != nil {
		return queryErr(stage+"-exists", err)
	}
	return nil
}

// ensureLiveSession returns NotFound for unknown and soft-deleted sessions.
func ensureLiveSession(ctx context.Context, q queryer, id SessionID, stage string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ? AND deleted_at IS NULL LIMIT 1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(stage, "session", id.String())
	}
	if err != nil {
		return queryErr(stage+"-exists", err)
	}
	return nil
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec       SessionRecord
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.ActiveBranchID, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = unixTime(createdAt)
	rec.UpdatedAt = unixTime(updatedAt)
	rec.Visibility = visibilityOf(deletedAt)
	return &rec, nil
}
