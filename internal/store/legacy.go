// ABOUTME: One-shot import of the legacy TSV conversation list into SQLite
// ABOUTME: Skips when any session exists; malformed rows become warnings, not failures

package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/2389/zova-store/internal/legacy"
)

// ImportLegacyFile imports the legacy file at path. A missing file is
// reported, not returned as an error.
func (s *SQLiteStore) ImportLegacyFile(ctx context.Context, path string) (*LegacyImportReport, error) {
	report, err := s.ImportLegacy(ctx, os.DirFS(filepath.Dir(path)), filepath.Base(path))
	if err != nil {
		return nil, err
	}
	report.SourcePath = path
	return report, nil
}

// ImportLegacy reads name from fsys and creates a session with a root branch
// for every valid row, newest first. The source is only read.
func (s *SQLiteStore) ImportLegacy(ctx context.Context, fsys fs.FS, name string) (*LegacyImportReport, error) {
	report := &LegacyImportReport{SourcePath: name}

	data, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		report.SourceMissing = true
		s.logger.Info("no legacy conversations to import", "source", name)
		return report, nil
	}
	if err != nil {
		return nil, &Error{Kind: KindReadLegacySource, Stage: "legacy-import-read", Details: name, Err: err}
	}

	rows, warnings, err := legacy.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindReadLegacySource, Stage: "legacy-import-parse", Details: name, Err: err}
	}
	for _, w := range warnings {
		s.logger.Warn("skipping legacy row", "source", name, "line", w.Line, "reason", w.Reason)
		report.Warnings = append(report.Warnings, LegacyImportWarning{LineNumber: w.Line, Reason: w.Reason})
	}
	report.SkippedRows = len(warnings)

	imported, err := call(ctx, s, "legacy-session-import", func(ctx context.Context) (int, error) {
		n := 0
		err := s.inTx(ctx, "legacy-session-import", func(tx *sql.Tx) error {
			var existing int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&existing); err != nil {
				return queryErr("legacy-session-import-count", err)
			}
			if existing > 0 {
				n = -1
				return nil
			}
			for _, row := range rows {
				at := int64(row.UpdatedAt)
				if err := insertSessionWithRootBranch(ctx, tx, NewSessionID(), NewBranchID(), row.Title, at, "legacy-session-import"); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		return n, err
	})
	if err != nil {
		return nil, err
	}

	if imported < 0 {
		report.AlreadyMigrated = true
		s.logger.Info("legacy conversations already migrated", "source", name)
		return report, nil
	}
	report.ImportedSessions = imported
	s.logger.Info("imported legacy conversations",
		"source", name,
		"imported", imported,
		"skipped", report.SkippedRows)
	return report, nil
}
