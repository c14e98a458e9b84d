// Package app wires configuration into gateways, storage and controllers.
// Both the HTTP server and the CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/tennis-onboard/internal/agent"
	"github.com/ashureev/tennis-onboard/internal/config"
	"github.com/ashureev/tennis-onboard/internal/gateway"
	"github.com/ashureev/tennis-onboard/internal/knowledge"
	"github.com/ashureev/tennis-onboard/internal/store"
)

// App holds the process-wide dependencies.
type App struct {
	Config       *config.Config
	Model        gateway.ModelGateway
	Speech       gateway.SpeechGateway
	Files        *store.FileStore
	Archive      store.Archive
	Conversation agent.ConversationLogger
	Log          *slog.Logger
}

// New builds the dependencies described by cfg. The archive is optional:
// when it cannot be opened the app runs without one.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		Config: cfg,
		Files:  store.NewFileStore(cfg.SessionsDir),
		Log:    logger,
	}

	if err := a.initGateways(ctx); err != nil {
		return nil, err
	}

	archiveDSN := cfg.Archive.DBPath
	if cfg.Archive.Driver == store.DriverPostgres {
		archiveDSN = cfg.Archive.DatabaseURL
	}
	archive, err := store.OpenArchive(ctx, cfg.Archive.Driver, archiveDSN)
	if err != nil {
		logger.Warn("Session archive unavailable, continuing without it",
			"driver", cfg.Archive.Driver,
			"error", err)
	} else {
		a.Archive = archive
		logger.Info("Session archive connected", "driver", cfg.Archive.Driver)
	}

	conv, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		a.closeArchive()
		return nil, fmt.Errorf("conversation logger: %w", err)
	}
	a.Conversation = conv

	return a, nil
}

func (a *App) initGateways(ctx context.Context) error {
	cfg := a.Config
	backends := map[string]gateway.ModelGateway{}

	var awsOK bool
	awsCfg, err := gateway.LoadAWSConfig(ctx, cfg.Credentials.AWS())
	if err == nil {
		awsOK = true
	} else if cfg.Model.Engine == gateway.EngineBedrock || cfg.Speech.Enabled {
		return fmt.Errorf("load AWS config: %w", err)
	}

	if awsOK && cfg.Credentials.AWSAccessKeyID != "" {
		modelID := gateway.DefaultBedrockModel
		if cfg.Model.Engine == gateway.EngineBedrock && cfg.Model.ModelID != "" {
			modelID = cfg.Model.ModelID
		}
		backends[gateway.EngineBedrock] = gateway.NewBedrockModel(awsCfg, modelID)
	}
	if cfg.Credentials.OpenAIAPIKey != "" {
		modelID := gateway.DefaultOpenAIModel
		if cfg.Model.Engine == gateway.EngineOpenAI && cfg.Model.ModelID != "" {
			modelID = cfg.Model.ModelID
		}
		backends[gateway.EngineOpenAI] = gateway.NewOpenAIModel(cfg.Credentials.OpenAIAPIKey, cfg.Credentials.OpenAIBaseURL, modelID)
	}

	models := gateway.NewRouter(backends, cfg.Model.Engine)
	model, err := models.Route(cfg.Model.Engine)
	if err != nil {
		return fmt.Errorf("model gateway: %w", err)
	}
	a.Model = model

	if cfg.Speech.Enabled && awsOK {
		speakers := gateway.NewRouter(map[string]gateway.SpeechGateway{
			gateway.EnginePolly: gateway.NewPollySpeech(awsCfg),
		}, gateway.EnginePolly)
		if a.Speech, err = speakers.Route(cfg.Speech.Engine); err != nil {
			return fmt.Errorf("speech gateway: %w", err)
		}
	}

	a.Log.Info("Gateways ready",
		"model_engine", cfg.Model.Engine,
		"available_engines", models.Engines(),
		"speech", a.Speech != nil)
	return nil
}

// NewController creates a controller for ownerID on channel.
func (a *App) NewController(ownerID, channel string) (*agent.Controller, error) {
	opts := agent.Options{
		Model:           a.Model,
		Speech:          a.Speech,
		Resources:       knowledge.Default,
		Persona:         a.Config.AgentName,
		Files:           a.Files,
		Threshold:       a.Config.StageThreshold,
		MaxOutputTokens: a.Config.Model.MaxOutputTokens,
		Temperature:     a.Config.Model.Temperature,
		OwnerID:         ownerID,
		Channel:         channel,
		Log:             a.Log,
		Conversation:    a.Conversation,
	}
	if a.Archive != nil {
		opts.Archive = a.Archive
	}
	return agent.NewController(opts)
}

// Close releases the archive and flushes the conversation log.
func (a *App) Close() error {
	var errs []error
	if a.Conversation != nil {
		if err := a.Conversation.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conversation logger: %w", err))
		}
	}
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) closeArchive() {
	if a.Archive == nil {
		return
	}
	if err := a.Archive.Close(); err != nil {
		a.Log.Debug("Failed to close archive", "error", err)
	}
}
