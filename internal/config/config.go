// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/tennis-onboard/internal/domain"
	"github.com/ashureev/tennis-onboard/internal/gateway"
	"github.com/ashureev/tennis-onboard/internal/stage"
	"github.com/ashureev/tennis-onboard/internal/store"
)

// ErrMissingCredentials is wrapped when a configured engine has no credentials.
var ErrMissingCredentials = errors.New("missing credentials")

// ConfigurationError reports an invalid or incomplete setting. It is fatal at startup.
type ConfigurationError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	SessionsDir     string
	AgentName       string
	DefaultLanguage domain.Language
	StageThreshold  int
	SessionTTL      time.Duration
	Archive         ArchiveConfig
	Model           ModelConfig
	Speech          SpeechConfig
	Credentials     Credentials
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// ArchiveConfig selects the saved-session index.
type ArchiveConfig struct {
	Driver      string
	DBPath      string
	DatabaseURL string
}

// ModelConfig selects the chat model backend.
type ModelConfig struct {
	Engine          string
	ModelID         string
	MaxOutputTokens int
	Temperature     float64
}

// SpeechConfig toggles text-to-speech.
type SpeechConfig struct {
	Enabled bool
	Engine  string
}

// Credentials are the explicit secrets passed to gateway constructors.
type Credentials struct {
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
}

// AWS returns the AWS subset of the credentials.
func (c Credentials) AWS() gateway.AWSOptions {
	return gateway.AWSOptions{
		Region:          c.AWSRegion,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		SessionToken:    c.AWSSessionToken,
	}
}

// RateLimitConfig bounds turns per identity.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	lang, err := domain.ParseLanguage(getEnv("DEFAULT_LANGUAGE", string(domain.DefaultLanguage)))
	if err != nil {
		return nil, &ConfigurationError{Key: "DEFAULT_LANGUAGE", Reason: "must be fr or en", Err: err}
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		SessionsDir:     getEnv("SESSIONS_DIR", store.DefaultSessionsDir),
		AgentName:       getEnv("AGENT_NAME", ""),
		DefaultLanguage: lang,
		StageThreshold:  getEnvInt("STAGE_TURN_THRESHOLD", stage.DefaultThreshold),
		SessionTTL:      getEnvDuration("SESSION_TTL", 60*time.Minute),
		Archive: ArchiveConfig{
			Driver:      strings.ToLower(getEnv("ARCHIVE_DRIVER", store.DriverSQLite)),
			DBPath:      getEnv("DB_PATH", "./data/onboarding.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Model: ModelConfig{
			Engine:          strings.ToLower(getEnv("MODEL_ENGINE", gateway.EngineBedrock)),
			ModelID:         getEnv("MODEL_ID", ""),
			MaxOutputTokens: getEnvInt("MODEL_MAX_TOKENS", gateway.DefaultMaxOutputTokens),
			Temperature:     getEnvFloat("MODEL_TEMPERATURE", gateway.DefaultTemperature),
		},
		Speech: SpeechConfig{
			Enabled: getEnvBool("SPEECH_ENABLED", true),
			Engine:  gateway.EnginePolly,
		},
		Credentials: Credentials{
			AWSRegion:          getEnv("AWS_REGION", gateway.DefaultRegion),
			AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AWSSessionToken:    getEnv("AWS_SESSION_TOKEN", ""),
			OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and that
// every enabled engine has its credentials.
func (c *Config) Validate() error {
	if c.Port == "" {
		return &ConfigurationError{Key: "PORT", Reason: "cannot be empty"}
	}
	if c.SessionsDir == "" {
		return &ConfigurationError{Key: "SESSIONS_DIR", Reason: "cannot be empty"}
	}
	if c.StageThreshold <= 0 {
		return &ConfigurationError{Key: "STAGE_TURN_THRESHOLD", Reason: "must be > 0"}
	}
	if c.SessionTTL <= 0 {
		return &ConfigurationError{Key: "SESSION_TTL", Reason: "must be > 0"}
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return &ConfigurationError{Key: "RATE_LIMIT_REQUESTS", Reason: "rate limit must be > 0"}
	}

	switch c.Archive.Driver {
	case store.DriverSQLite:
		if c.Archive.DBPath == "" {
			return &ConfigurationError{Key: "DB_PATH", Reason: "cannot be empty"}
		}
	case store.DriverPostgres:
		if c.Archive.DatabaseURL == "" {
			return &ConfigurationError{Key: "DATABASE_URL", Reason: "required when ARCHIVE_DRIVER=postgres"}
		}
	default:
		return &ConfigurationError{Key: "ARCHIVE_DRIVER", Reason: fmt.Sprintf("unknown driver %q", c.Archive.Driver)}
	}

	switch c.Model.Engine {
	case gateway.EngineBedrock:
		if !c.Credentials.hasAWS() {
			return &ConfigurationError{Key: "AWS_ACCESS_KEY_ID", Reason: "bedrock engine needs AWS credentials", Err: ErrMissingCredentials}
		}
	case gateway.EngineOpenAI:
		if c.Credentials.OpenAIAPIKey == "" {
			return &ConfigurationError{Key: "OPENAI_API_KEY", Reason: "openai engine needs an API key", Err: ErrMissingCredentials}
		}
	default:
		return &ConfigurationError{Key: "MODEL_ENGINE", Reason: fmt.Sprintf("unknown engine %q", c.Model.Engine)}
	}

	if c.Speech.Enabled && !c.Credentials.hasAWS() {
		return &ConfigurationError{Key: "AWS_ACCESS_KEY_ID", Reason: "speech needs AWS credentials (or SPEECH_ENABLED=false)", Err: ErrMissingCredentials}
	}

	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return &ConfigurationError{Key: "CONVERSATION_LOG_DIR", Reason: "cannot be empty"}
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return &ConfigurationError{Key: "CONVERSATION_LOG_GLOBAL_PATH", Reason: "cannot be empty"}
	}
	if c.ConversationLog.QueueSize <= 0 {
		return &ConfigurationError{Key: "CONVERSATION_LOG_QUEUE_SIZE", Reason: "must be > 0"}
	}
	return nil
}

func (c Credentials) hasAWS() bool {
	return c.AWSAccessKeyID != "" && c.AWSSecretAccessKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the widget.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
