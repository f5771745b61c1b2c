// ABOUTME: Media reference persistence for SQLiteStore
// ABOUTME: Stores URIs and metadata only; inline data blobs are refused

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const mediaColumns = `id, session_id, message_id, uri, mime_type, size_bytes, duration_ms, width_px, height_px, sha256_hex, created_at, deleted_at`

// AttachMedia records a reference to an attachment on a visible message.
func (s *SQLiteStore) AttachMedia(ctx context.Context, sessionID SessionID, messageID MessageID, in NewMediaRef) (*MediaRefRecord, error) {
	return call(ctx, s, "media-attach", func(ctx context.Context) (*MediaRefRecord, error) {
		if err := ensureMessageInSession(ctx, s.db, sessionID, messageID, "media-attach"); err != nil {
			return nil, err
		}
		if err := validateMediaURI(in.URI, "media-attach"); err != nil {
			return nil, err
		}
		if in.SizeBytes < 0 {
			return nil, conflict("media-attach", "media_ref", "size_bytes must not be negative")
		}

		now := s.nowUnix()
		rec := &MediaRefRecord{
			ID:         NewMediaRefID(),
			SessionID:  sessionID,
			MessageID:  messageID,
			URI:        in.URI,
			MimeType:   in.MimeType,
			SizeBytes:  in.SizeBytes,
			DurationMS: in.DurationMS,
			WidthPx:    in.WidthPx,
			HeightPx:   in.HeightPx,
			SHA256Hex:  in.SHA256Hex,
			CreatedAt:  unixTime(now),
			Visibility: Active(),
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO media_refs (`+mediaColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		`, rec.ID, sessionID, messageID, rec.URI, rec.MimeType, rec.SizeBytes,
			rec.DurationMS, rec.WidthPx, rec.HeightPx, rec.SHA256Hex, now)
		if err != nil {
			return nil, queryErr("media-attach-insert", err)
		}

		s.logger.Debug("attached media",
			"session_id", sessionID,
			"message_id", messageID,
			"media_ref_id", rec.ID)
		return rec, nil
	})
}

// validateMediaURI rejects inline payloads such as data: URIs.
func validateMediaURI(uri, stage string) error {
	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "data:") || strings.Contains(lower, ";base64,") {
		return conflict(stage, "media_ref", "blob payloads are not allowed; store URI/path references only")
	}
	return nil
}

// ListMedia returns a message's media refs in creation order.
func (s *SQLiteStore) ListMedia(ctx context.Context, sessionID SessionID, messageID MessageID, includeDeleted bool) ([]*MediaRefRecord, error) {
	return call(ctx, s, "media-list", func(ctx context.Context) ([]*MediaRefRecord, error) {
		if err := ensureMessageInSession(ctx, s.db, sessionID, messageID, "media-list"); err != nil {
			return nil, err
		}

		query := `SELECT ` + mediaColumns + ` FROM media_refs WHERE session_id = ? AND message_id = ?`
		if !includeDeleted {
			query += ` AND deleted_at IS NULL`
		}
		query += ` ORDER BY created_at ASC, id ASC`

		rows, err := s.db.QueryContext(ctx, query, sessionID, messageID)
		if err != nil {
			return nil, queryErr("media-list-query", err)
		}
		defer rows.Close()

		var refs []*MediaRefRecord
		for rows.Next() {
			rec, err := scanMediaRef(rows)
			if err != nil {
				return nil, queryErr("media-list-scan", err)
			}
			refs = append(refs, rec)
		}
		if err := rows.Err(); err != nil {
			return nil, queryErr("media-list-rows", err)
		}
		return refs, nil
	})
}

// SoftDeleteMedia tombstones a media ref. Deleting it twice is a no-op.
func (s *SQLiteStore) SoftDeleteMedia(ctx context.Context, sessionID SessionID, messageID MessageID, id MediaRefID) error {
	_, err := call(ctx, s, "media-soft-delete", func(ctx context.Context) (struct{}, error) {
		if err := ensureMessageInSession(ctx, s.db, sessionID, messageID, "media-soft-delete"); err != nil {
			return struct{}{}, err
		}

		result, err := s.db.ExecContext(ctx, `
			UPDATE media_refs SET deleted_at = ?
			WHERE session_id = ? AND message_id = ? AND id = ? AND deleted_at IS NULL
		`, s.nowUnix(), sessionID, messageID, id)
		if err != nil {
			return struct{}{}, queryErr("media-soft-delete-exec", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return struct{}{}, nil
		}

		var one int
		err = s.db.QueryRowContext(ctx, `
			SELECT 1 FROM media_refs WHERE session_id = ? AND message_id = ? AND id = ? LIMIT 1
		`, sessionID, messageID, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return struct{}{}, notFound("media-soft-delete", "media_ref", id.String())
		}
		if err != nil {
			return struct{}{}, queryErr("media-soft-delete-exists", err)
		}
		return struct{}{}, nil
	})
	return err
}

// ensureMessageInSession returns NotFound unless a visible message with this
// id belongs to sessionID.
func ensureMessageInSession(ctx context.Context, q queryer, sessionID SessionID, messageID MessageID, stage string) error {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM messages WHERE session_id = ? AND id = ? AND deleted_at IS NULL LIMIT 1
	`, sessionID, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(stage, "message", messageID.String())
	}
	if err != nil {
		return queryErr(stage+"-message-exists", err)
	}
	return nil
}

func scanMediaRef(row rowScanner) (*MediaRefRecord, error) {
	var (
		rec        MediaRefRecord
		durationMS sql.NullInt64
		widthPx    sql.NullInt64
		heightPx   sql.NullInt64
		sha        sql.NullString
		createdAt  int64
		deletedAt  sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.MessageID, &rec.URI, &rec.MimeType, &rec.SizeBytes,
		&durationMS, &widthPx, &heightPx, &sha, &createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	rec.DurationMS = nullInt(durationMS)
	rec.WidthPx = nullInt(widthPx)
	rec.HeightPx = nullInt(heightPx)
	if sha.Valid {
		rec.SHA256Hex = &sha.String
	}
	rec.CreatedAt = unixTime(createdAt)
	rec.Visibility = visibilityOf(deletedAt)
	return &rec, nil
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
