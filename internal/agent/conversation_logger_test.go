package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    filepath.Join(dir, "all", "all.ndjson"),
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		UserID:     "device-1",
		SessionID:  "sess-1",
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "user_message",
		RoleKind:   "player",
		Stage:      "bienvenue",
		ContentRaw: "J'ai 28 ans,\x1b[1m droitier\x1b[0m",
	})

	line := waitForLogLine(t, filepath.Join(dir, "device-1", "sess-1.ndjson"))
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Stage != "bienvenue" || got.EventType != "user_message" {
		t.Fatalf("unexpected event %+v", got)
	}
	if !strings.Contains(got.ContentRaw, "\x1b[1m") {
		t.Fatalf("raw content should be kept verbatim: %q", got.ContentRaw)
	}

	waitForLogLine(t, filepath.Join(dir, "all", "all.ndjson"))
}

func TestConversationLoggerSanitizesPathSegments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 4}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{UserID: "../../etc", SessionID: "a/b", ContentRaw: "x"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*", "*.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one log file inside %s, got %v", dir, matches)
	}

	// Logging after Close is a no-op.
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s"})
}

func TestConversationLoggerDisabled(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if _, ok := logger.(noopConversationLogger); !ok {
		t.Fatalf("expected noop logger, got %T", logger)
	}
	logger.Log(ConversationLogEvent{})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m   plain\x07"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") || strings.Contains(clean, "\x07") {
		t.Fatalf("expected control sequences to be stripped: %q", clean)
	}
	if clean != "error plain" {
		t.Fatalf("unexpected cleaned text: %q", clean)
	}
}

func TestConversationLoggerCloseSessionReleasesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	conv, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 128}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = conv.Close() }()
	l := conv.(*fileConversationLogger)

	for i := 0; i < 50; i++ {
		l.Log(ConversationLogEvent{UserID: "device-1", SessionID: fmt.Sprintf("sess-%d", i), ContentRaw: "x"})
	}
	waitForOpenFiles(t, l, 50)

	for i := 0; i < 50; i++ {
		l.CloseSession("device-1", fmt.Sprintf("sess-%d", i))
	}
	waitForOpenFiles(t, l, 0)

	// A released session reopens and appends on the next event.
	l.Log(ConversationLogEvent{UserID: "device-1", SessionID: "sess-7", ContentRaw: "again"})
	waitForOpenFiles(t, l, 1)
	data, err := os.ReadFile(filepath.Join(dir, "device-1", "sess-7.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Fatalf("expected 2 lines after reopening, got %d", got)
	}
}

func TestRegistryReleasesConversationLogs(t *testing.T) {
	t.Parallel()

	conv, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: t.TempDir(), QueueSize: 64}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = conv.Close() }()
	l := conv.(*fileConversationLogger)

	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return start }
	withLog := func(o *Options) {
		o.Conversation = conv
		o.Now = clock
	}

	reg := NewRegistry()
	removed := begunController(t, "u1", withLog)
	idle := begunController(t, "u2", withLog)
	replaced := begunController(t, "u3", withLog)
	reg.Put(removed)
	reg.Put(idle)
	id := reg.Put(replaced)
	waitForOpenFiles(t, l, 3)

	if !reg.Remove("u1", removed.SessionID()) {
		t.Fatal("Remove failed")
	}
	waitForOpenFiles(t, l, 2)

	if n := SweepIdle(context.Background(), reg, time.Minute, start.Add(time.Hour), nil); n != 2 {
		t.Fatalf("expected 2 evictions, got %d", n)
	}
	waitForOpenFiles(t, l, 0)

	// Replacing a live controller under the same id releases the old one.
	reg.Put(replaced)
	if _, err := replaced.Turn(context.Background(), "Bonjour"); err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	waitForOpenFiles(t, l, 1)
	twin := newTestController(t, &stubModel{}, withLog)
	twin.session = &domain.Session{ID: id, RoleKind: domain.RoleKindPlayer}
	reg.Put(twin)
	waitForOpenFiles(t, l, 0)
}

func waitForOpenFiles(t *testing.T, l *fileConversationLogger, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.openFiles() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d open log files, got %d", want, l.openFiles())
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
