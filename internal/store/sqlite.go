package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/tennis-onboard/internal/shared"
)

// DefaultDBPath is the SQLite archive location when none is configured.
const DefaultDBPath = "data/onboarding.db"

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLite opens (and creates if needed) a SQLite archive at dbPath.
func NewSQLite(dbPath string) (*SQLiteArchive, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return a, nil
}

func (a *SQLiteArchive) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS saved_sessions (
		path TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		role_kind TEXT NOT NULL,
		language TEXT NOT NULL,
		stage TEXT NOT NULL,
		turns INTEGER NOT NULL DEFAULT 0,
		saved_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_saved_sessions_session ON saved_sessions(session_id, saved_at);
	CREATE INDEX IF NOT EXISTS idx_saved_sessions_owner ON saved_sessions(owner_id, saved_at);
	`
	if _, err := a.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (a *SQLiteArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Record upserts an entry keyed by its path.
func (a *SQLiteArchive) Record(ctx context.Context, e Entry) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	query := `
	INSERT INTO saved_sessions (path, session_id, owner_id, role_kind, language, stage, turns, saved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		stage = excluded.stage,
		turns = excluded.turns,
		saved_at = excluded.saved_at`

	return shared.RetryOnConflict(ctx, "record saved session", 3, 50*time.Millisecond, func() error {
		_, err := a.db.ExecContext(ctx, query,
			e.Path, e.SessionID, e.OwnerID, e.RoleKind, e.Language, e.Stage, e.Turns, e.SavedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert saved session: %w", err)
		}
		return nil
	})
}

// Get returns the latest entry for sessionID, or nil when none exists.
func (a *SQLiteArchive) Get(ctx context.Context, sessionID string) (*Entry, error) {
	query := `
		SELECT path, session_id, owner_id, role_kind, language, stage, turns, saved_at
		FROM saved_sessions WHERE session_id = ?
		ORDER BY saved_at DESC LIMIT 1`

	e, err := scanEntry(a.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan saved session: %w", err)
	}
	return e, nil
}

// List returns entries newest first.
func (a *SQLiteArchive) List(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	query := `
		SELECT path, session_id, owner_id, role_kind, language, stage, turns, saved_at
		FROM saved_sessions
		WHERE (? = '' OR owner_id = ?)
		ORDER BY saved_at DESC LIMIT ?`

	rows, err := a.db.QueryContext(ctx, query, ownerID, ownerID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query saved sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saved session: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved sessions: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var savedAt int64
	if err := row.Scan(&e.Path, &e.SessionID, &e.OwnerID, &e.RoleKind, &e.Language, &e.Stage, &e.Turns, &savedAt); err != nil {
		return nil, err
	}
	e.SavedAt = time.UnixMilli(savedAt).UTC()
	return &e, nil
}
