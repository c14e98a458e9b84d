package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

// ErrInvalidSessionFile is returned when a saved session cannot be decoded.
var ErrInvalidSessionFile = errors.New("store: invalid session file")

// DefaultSessionsDir is where session files are written when no directory is configured.
const DefaultSessionsDir = "sessions"

const fileTimeLayout = "20060102_150405"

type sessionFile struct {
	ID                  string            `json:"id"`
	UserType            domain.RoleKind   `json:"user_type"`
	Language            domain.Language   `json:"language"`
	CurrentStage        string            `json:"current_stage"`
	UserProfile         domain.Profile    `json:"user_profile"`
	ConversationHistory domain.Transcript `json:"conversation_history"`
	CreatedAt           time.Time         `json:"created_at"`
	Timestamp           time.Time         `json:"timestamp"`
}

// FileStore writes one indented JSON file per save.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultSessionsDir
	}
	return &FileStore{dir: dir, now: time.Now}
}

// Dir returns the directory session files are written to.
func (f *FileStore) Dir() string {
	return f.dir
}

// Save writes the session and returns the path of the new file. The file is
// written to a temporary name and renamed into place.
func (f *FileStore) Save(_ context.Context, s *domain.Session) (string, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("create sessions directory: %w", err)
	}

	now := f.now()
	profile := s.Profile
	if profile == nil {
		profile = domain.Profile{}
	}
	rec := sessionFile{
		ID:                  s.ID,
		UserType:            s.RoleKind,
		Language:            s.Language,
		CurrentStage:        s.Stage,
		UserProfile:         profile,
		ConversationHistory: s.Transcript,
		CreatedAt:           s.CreatedAt,
		Timestamp:           now,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}

	name := fmt.Sprintf("session_%s_%s_%s.json", s.RoleKind, now.Format(fileTimeLayout), shortID(s.ID))
	path := filepath.Join(f.dir, name)

	tmp, err := os.CreateTemp(f.dir, ".session-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close session: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("rename session: %w", err)
	}
	return path, nil
}

// Load reads a saved session. A bare file name is resolved inside the store
// directory; any other location is used as given.
func (f *FileStore) Load(_ context.Context, location string) (*domain.Session, error) {
	data, err := os.ReadFile(f.Resolve(location))
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec sessionFile
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionFile, err)
	}

	kind, err := domain.ParseRoleKind(string(rec.UserType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionFile, err)
	}
	lang, err := domain.ParseLanguage(string(rec.Language))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionFile, err)
	}
	if rec.UserProfile == nil {
		rec.UserProfile = domain.Profile{}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.Timestamp
	}

	return &domain.Session{
		ID:         rec.ID,
		RoleKind:   kind,
		Language:   lang,
		Stage:      rec.CurrentStage,
		Profile:    rec.UserProfile,
		Transcript: rec.ConversationHistory,
		CreatedAt:  createdAt,
	}, nil
}

// Resolve maps a location to a file path.
func (f *FileStore) Resolve(location string) string {
	if !filepath.IsAbs(location) && !strings.ContainsRune(location, filepath.Separator) && !strings.Contains(location, "/") {
		return filepath.Join(f.dir, location)
	}
	return location
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "anon"
	}
	return id
}
