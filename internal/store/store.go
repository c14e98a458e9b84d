// Package store persists onboarding sessions as JSON files and keeps an
// index of saved sessions in a SQL archive.
package store

import (
	"context"
	"fmt"
	"time"
)

// Archive drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Entry indexes one saved session file.
type Entry struct {
	SessionID string    `json:"session_id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	RoleKind  string    `json:"role_kind"`
	Language  string    `json:"language"`
	Stage     string    `json:"stage"`
	Turns     int       `json:"turns"`
	Path      string    `json:"path"`
	SavedAt   time.Time `json:"saved_at"`
}

// Archive records where sessions were saved.
type Archive interface {
	// Record stores an entry. Saving the same path twice replaces the entry.
	Record(ctx context.Context, e Entry) error
	// Get returns the most recent entry for a session, or nil when none exists.
	Get(ctx context.Context, sessionID string) (*Entry, error)
	// List returns entries newest first. An empty owner lists all entries.
	List(ctx context.Context, ownerID string, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// OpenArchive opens the archive for driver. dsn is a file path for sqlite
// and a connection string for postgres.
func OpenArchive(ctx context.Context, driver, dsn string) (Archive, error) {
	switch driver {
	case "", DriverSQLite:
		a, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return a, nil
	case DriverPostgres:
		a, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
