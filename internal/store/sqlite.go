// ABOUTME: SQLite implementation of the Storage interface using modernc.org/sqlite
// ABOUTME: Opens the database, pins pragmas, runs embedded migrations and starts the worker pool

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS = 5000

	defaultWorkers   = 2
	defaultQueueSize = 64

	// MemoryLocation opens a private in-memory database.
	MemoryLocation = ":memory:"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Options tunes an opened store. The zero value is usable.
type Options struct {
	Workers    int
	QueueSize  int
	Logger     *slog.Logger
	Registerer prometheus.Registerer

	// Now overrides the clock used for created/updated/deleted timestamps.
	Now func() time.Time
}

// SQLiteStore implements Storage on a single SQLite file.
type SQLiteStore struct {
	db       *sql.DB
	logger   *slog.Logger
	pool     *workerPool
	location string
	now      func() time.Time
}

// Open creates or opens the database at location, which is a file path or
// MemoryLocation. Parent directories are created if needed.
func Open(location string, opts Options) (*SQLiteStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if location != MemoryLocation {
		if err := os.MkdirAll(filepath.Dir(location), 0755); err != nil {
			return nil, &Error{Kind: KindCreateDirectory, Stage: "sqlite-open-create-dir", Details: filepath.Dir(location), Err: err}
		}
	}

	db, err := sql.Open("sqlite", dsn(location))
	if err != nil {
		return nil, &Error{Kind: KindConnect, Stage: "sqlite-open-connect", Err: err}
	}
	// Single writer connection; also keeps one :memory: database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &Error{Kind: KindConnect, Stage: "sqlite-open-connect", Err: err}
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:       db,
		logger:   logger,
		pool:     newWorkerPool(opts.Workers, opts.QueueSize, logger, newMetrics(opts.Registerer)),
		location: location,
		now:      opts.Now,
	}

	logger.Info("SQLite store initialized",
		"location", location,
		"workers", opts.Workers,
		"queue_size", opts.QueueSize)
	return s, nil
}

// dsn sets the pragmas on every connection the driver opens and makes
// BeginTx take the write lock up front.
func dsn(location string) string {
	params := fmt.Sprintf("_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", busyTimeoutMS)
	if strings.Contains(location, "?") {
		return location + "&" + params
	}
	return location + "?" + params
}

func applyPragmas(db *sql.DB) error {
	pragmas := []struct{ stage, stmt string }{
		{"sqlite-open-journal-mode", "PRAGMA journal_mode=WAL"},
		{"sqlite-open-foreign-keys", "PRAGMA foreign_keys=ON"},
		{"sqlite-open-busy-timeout", fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS)},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			return &Error{Kind: KindPragma, Stage: p.stage, Details: p.stmt, Err: err}
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return &Error{Kind: KindMigrate, Stage: "sqlite-open-migrate", Details: "loading embedded migrations", Err: err}
	}
	defer src.Close()

	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return &Error{Kind: KindMigrate, Stage: "sqlite-open-migrate", Details: "binding migration driver", Err: err}
	}

	// The migrate instance is not closed: closing it would close db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return &Error{Kind: KindMigrate, Stage: "sqlite-open-migrate", Err: err}
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return &Error{Kind: KindMigrate, Stage: "sqlite-open-migrate", Err: err}
	}
	return nil
}

// Close drains queued calls and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.pool.close()
	if err := s.db.Close(); err != nil {
		return &Error{Kind: KindConnect, Stage: "sqlite-close", Err: err}
	}
	s.logger.Info("SQLite store closed", "location", s.location)
	return nil
}

// SchemaReport reads the pragma values and table names back from the live
// connection.
func (s *SQLiteStore) SchemaReport(ctx context.Context) (*SchemaReport, error) {
	return call(ctx, s, "schema-report", func(ctx context.Context) (*SchemaReport, error) {
		var r SchemaReport
		if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&r.JournalMode); err != nil {
			return nil, queryErr("schema-report-journal-mode", err)
		}
		r.JournalMode = strings.ToLower(r.JournalMode)
		if err := s.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&r.ForeignKeys); err != nil {
			return nil, queryErr("schema-report-foreign-keys", err)
		}
		if err := s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&r.BusyTimeoutMS); err != nil {
			return nil, queryErr("schema-report-busy-timeout", err)
		}

		rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
		if err != nil {
			return nil, queryErr("schema-report-tables", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, queryErr("schema-report-tables", err)
			}
			r.Tables = append(r.Tables, name)
		}
		if err := rows.Err(); err != nil {
			return nil, queryErr("schema-report-tables", err)
		}
		return &r, nil
	})
}

// inTx runs fn inside one IMMEDIATE transaction. Everything inside fn must go
// through tx; the pool has a single connection.
func (s *SQLiteStore) inTx(ctx context.Context, stage string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queryErr(stage+"-begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return queryErr(stage+"-commit", err)
	}
	return nil
}

// nowUnix is the current time in whole seconds, the storage resolution.
func (s *SQLiteStore) nowUnix() int64 {
	return s.now().Unix()
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func visibilityOf(deletedAt sql.NullInt64) Visibility {
	if !deletedAt.Valid {
		return Active()
	}
	return DeletedAt(unixTime(deletedAt.Int64))
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
