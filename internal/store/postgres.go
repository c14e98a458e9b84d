package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createSavedSessionsSQL = `
CREATE TABLE IF NOT EXISTS saved_sessions (
	path       TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	owner_id   TEXT NOT NULL DEFAULT '',
	role_kind  TEXT NOT NULL,
	language   TEXT NOT NULL,
	stage      TEXT NOT NULL,
	turns      INTEGER NOT NULL DEFAULT 0,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_saved_sessions_session ON saved_sessions(session_id, saved_at DESC);
CREATE INDEX IF NOT EXISTS idx_saved_sessions_owner ON saved_sessions(owner_id, saved_at DESC);`

// PostgresArchive implements Archive on a pgx connection pool.
type PostgresArchive struct {
	db *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresArchive, error) {
	if dsn == "" {
		return nil, errors.New("postgres archive: empty DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createSavedSessionsSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: create schema: %w", err)
	}
	return &PostgresArchive{db: pool}, nil
}

// Ping verifies database connectivity.
func (p *PostgresArchive) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Record upserts an entry keyed by its path.
func (p *PostgresArchive) Record(ctx context.Context, e Entry) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO saved_sessions (path, session_id, owner_id, role_kind, language, stage, turns, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (path) DO UPDATE SET
		 	stage = EXCLUDED.stage,
		 	turns = EXCLUDED.turns,
		 	saved_at = EXCLUDED.saved_at`,
		e.Path, e.SessionID, e.OwnerID, e.RoleKind, e.Language, e.Stage, e.Turns, e.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres archive: record: %w", err)
	}
	return nil
}

// Get returns the latest entry for sessionID, or nil when none exists.
func (p *PostgresArchive) Get(ctx context.Context, sessionID string) (*Entry, error) {
	var e Entry
	err := p.db.QueryRow(ctx,
		`SELECT path, session_id, owner_id, role_kind, language, stage, turns, saved_at
		 FROM saved_sessions WHERE session_id = $1
		 ORDER BY saved_at DESC LIMIT 1`,
		sessionID,
	).Scan(&e.Path, &e.SessionID, &e.OwnerID, &e.RoleKind, &e.Language, &e.Stage, &e.Turns, &e.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres archive: get: %w", err)
	}
	return &e, nil
}

// List returns entries newest first.
func (p *PostgresArchive) List(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT path, session_id, owner_id, role_kind, language, stage, turns, saved_at
		 FROM saved_sessions
		 WHERE ($1 = '' OR owner_id = $1)
		 ORDER BY saved_at DESC LIMIT $2`,
		ownerID, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.SessionID, &e.OwnerID, &e.RoleKind, &e.Language, &e.Stage, &e.Turns, &e.SavedAt); err != nil {
			return nil, fmt.Errorf("postgres archive: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres archive: rows: %w", err)
	}
	return entries, nil
}

// Close releases the pool.
func (p *PostgresArchive) Close() error {
	p.db.Close()
	return nil
}
