package config

import (
	"errors"
	"testing"
	"time"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

func setAWS(t *testing.T) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setAWS(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.Model.Engine != "bedrock" || cfg.Archive.Driver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DefaultLanguage != domain.LanguageFrench {
		t.Fatalf("default language = %q", cfg.DefaultLanguage)
	}
	if cfg.StageThreshold != 4 || cfg.Model.MaxOutputTokens != 1024 || cfg.Model.Temperature != 0.7 {
		t.Fatalf("unexpected generation defaults: %+v", cfg.Model)
	}
	if cfg.Credentials.AWSRegion != "eu-west-1" {
		t.Fatalf("region = %q", cfg.Credentials.AWSRegion)
	}
	if !cfg.Speech.Enabled {
		t.Fatal("speech should be enabled by default")
	}
	if got := cfg.Credentials.AWS(); got.AccessKeyID != "AKIATEST" || got.SecretAccessKey != "secret" {
		t.Fatalf("unexpected AWS options %+v", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MODEL_ENGINE", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SPEECH_ENABLED", "false")
	t.Setenv("DEFAULT_LANGUAGE", "EN")
	t.Setenv("STAGE_TURN_THRESHOLD", "6")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("ARCHIVE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/onboarding")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model.Engine != "openai" || cfg.DefaultLanguage != domain.LanguageEnglish {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.StageThreshold != 6 || cfg.SessionTTL != 15*time.Minute || cfg.RateLimit.WindowDuration != 30*time.Second {
		t.Fatalf("numeric overrides not applied: %+v", cfg)
	}
	if cfg.Archive.Driver != "postgres" {
		t.Fatalf("archive driver = %q", cfg.Archive.Driver)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"bedrock without keys", map[string]string{"SPEECH_ENABLED": "false"}, "AWS_ACCESS_KEY_ID"},
		{"openai without key", map[string]string{"MODEL_ENGINE": "openai", "SPEECH_ENABLED": "false"}, "OPENAI_API_KEY"},
		{"speech without keys", map[string]string{"MODEL_ENGINE": "openai", "OPENAI_API_KEY": "sk"}, "AWS_ACCESS_KEY_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AWS_ACCESS_KEY_ID", "")
			t.Setenv("AWS_SECRET_ACCESS_KEY", "")
			t.Setenv("OPENAI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if !errors.Is(err, ErrMissingCredentials) {
				t.Fatalf("expected ErrMissingCredentials, got %v", err)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Key != tt.key {
				t.Fatalf("expected ConfigurationError for %s, got %v", tt.key, err)
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"language", "DEFAULT_LANGUAGE", "de"},
		{"engine", "MODEL_ENGINE", "ollama"},
		{"driver", "ARCHIVE_DRIVER", "mongo"},
		{"threshold", "STAGE_TURN_THRESHOLD", "0"},
		{"postgres url", "ARCHIVE_DRIVER", "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setAWS(t)
			t.Setenv("DATABASE_URL", "")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Parallel()

	if got := (&Config{}).AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("unexpected dev origins %v", got)
	}
	cfg := &Config{FrontendURL: "https://club.example"}
	if got := cfg.AllowedOrigins(); got[0] != "https://club.example" || cfg.IsDevelopment() {
		t.Fatalf("unexpected origins %v", got)
	}
}
