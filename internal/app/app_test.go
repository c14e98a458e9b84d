package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ashureev/tennis-onboard/internal/config"
	"github.com/ashureev/tennis-onboard/internal/domain"
	"github.com/ashureev/tennis-onboard/internal/gateway"
	"github.com/ashureev/tennis-onboard/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "missing-config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "missing-credentials"))
	return &config.Config{
		SessionsDir:     filepath.Join(dir, "sessions"),
		AgentName:       "Ace",
		DefaultLanguage: domain.LanguageFrench,
		StageThreshold:  4,
		Archive:         config.ArchiveConfig{Driver: store.DriverSQLite, DBPath: filepath.Join(dir, "archive.db")},
		Model:           config.ModelConfig{Engine: gateway.EngineOpenAI, MaxOutputTokens: 256, Temperature: 0.5},
		Credentials:     config.Credentials{OpenAIAPIKey: "sk-test", OpenAIBaseURL: "http://127.0.0.1:0/v1"},
	}
}

func TestNewWiresOpenAIWithoutSpeech(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if _, ok := a.Model.(*gateway.OpenAIModel); !ok {
		t.Fatalf("model = %T, want *gateway.OpenAIModel", a.Model)
	}
	if a.Speech != nil {
		t.Fatal("speech should be disabled")
	}
	if a.Archive == nil {
		t.Fatal("sqlite archive should be open")
	}

	c, err := a.NewController("cli", "chat_cli")
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	greeting, err := c.Begin(domain.RoleKindCoach, domain.LanguageEnglish)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if greeting.Text == "" || c.SpeechEnabled() {
		t.Fatalf("unexpected controller state: %+v", greeting)
	}
}

func TestNewWithoutArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive = config.ArchiveConfig{Driver: "mongo"}

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.Archive != nil {
		t.Fatal("unknown archive driver should leave the archive unset")
	}
}

func TestNewRequiresModelBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.OpenAIAPIKey = ""

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error without any model backend")
	}
}
