// Package store is the durable, transactional registry of sessions, file
// claims, merge events, subscriptions, conflict resolutions, suggestions,
// and budget periods. Every mutating operation in the coordinator funnels
// through a DB transaction.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps a *sql.DB with the write-serialization and migration machinery
// the coordinator depends on.
type DB struct {
	sql *sql.DB
	mu  sync.RWMutex
	log *slog.Logger
	// path is kept for backup-before-migrate; empty for in-memory DBs.
	path string
}

// Open opens (creating if absent) the SQLite database at path, enables WAL
// mode and foreign keys, and runs pending migrations. path == ":memory:"
// opens a private in-memory database, used by tests.
func Open(ctx context.Context, path string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // single-writer; WAL allows concurrent readers via separate handles if ever needed

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	db := &DB{sql: sqlDB, log: log, path: path}
	if err := db.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

// GlobalDBPath returns the default path for the cross-repo coordinator
// database, under XDG_DATA_HOME (or ~/.local/share as a fallback).
func GlobalDBPath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "coordex", "coordex.db"), nil
}

// ProjectDBPath returns the per-repo database path nested under repoPath.
func ProjectDBPath(repoPath string) string {
	return filepath.Join(repoPath, ".coordex", "coordex.db")
}

// Transaction runs fn inside a transaction: fn returning nil
// commits, fn returning an error (or panicking) rolls back. Transaction
// starts are additionally serialized through an in-process mutex so that
// concurrent goroutines in this process queue rather than contend on
// SQLite's own busy-timeout retry loop.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	// database/sql has no native BEGIN IMMEDIATE; BeginTx opens a deferred
	// transaction. Within this process the mutex above and max-open-conns 1
	// serialize writers; across processes PRAGMA busy_timeout makes a
	// contended writer wait and retry before failing.
	tx, err := db.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Raw exposes the underlying *sql.DB for read-only queries outside a
// Transaction. Writers must always go through Transaction.
func (db *DB) Raw() *sql.DB { return db.sql }

// Migrate applies pending numbered migrations in order, recording the
// resulting version in schema_metadata. Before applying any pending
// migration it backs up the database file; RollbackMigration restores it.
func (db *DB) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	current, err := db.currentVersion(ctx)
	if err != nil && !isNoSuchTable(err) {
		return fmt.Errorf("read schema version: %w", err)
	}

	pending := make([]string, 0, len(names))
	for _, n := range names {
		v := strings.TrimSuffix(n, ".sql")
		if current == "" || v > current {
			pending = append(pending, n)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if err := db.backup(); err != nil {
		db.log.Warn("migration backup failed, continuing without one", "error", err)
	}

	for _, n := range pending {
		script, err := migrationFS.ReadFile("migrations/" + n)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", n, err)
		}
		if err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(script)); err != nil {
				return fmt.Errorf("apply migration %s: %w", n, err)
			}
			version := strings.TrimSuffix(n, ".sql")
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_metadata(key, value) VALUES ('version', ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, version)
			return err
		}); err != nil {
			if rbErr := db.RollbackMigration(); rbErr != nil {
				return fmt.Errorf("migration failed and rollback failed: %v (rollback: %v)", err, rbErr)
			}
			return fmt.Errorf("migration error, rolled back database file: %w", err)
		}
		db.log.Info("applied migration", "version", n)
	}
	return nil
}

func (db *DB) currentVersion(ctx context.Context) (string, error) {
	var v string
	err := db.sql.QueryRowContext(ctx, `SELECT value FROM schema_metadata WHERE key = 'version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func (db *DB) backupPath() string {
	return db.path + ".bak"
}

// backup copies the live database file to a sibling .bak path. A no-op for
// in-memory databases.
func (db *DB) backup() error {
	if db.path == "" || db.path == ":memory:" {
		return nil
	}
	src, err := os.Open(db.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(db.backupPath())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// RollbackMigration restores the database file from the most recent
// pre-migration backup. Callers must reopen the DB afterward.
func (db *DB) RollbackMigration() error {
	if db.path == "" || db.path == ":memory:" {
		return fmt.Errorf("cannot roll back an in-memory database")
	}
	src, err := os.Open(db.backupPath())
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(db.path)
	if err != nil {
		return fmt.Errorf("open database for restore: %w", err)
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// now is the store's single clock, returning a UTC time truncated to the
// store's one-second persistence grain.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Now exposes the store's clock to callers outside the package (e.g. the
// Claims Manager computing an expires_at before InsertClaim formats it).
func Now() time.Time {
	return now()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTimeToSQL(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableStringToSQL(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func sqlToNullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
