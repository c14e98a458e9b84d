// Command onboard runs the tennis onboarding conversation in a terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/tennis-onboard/internal/app"
	"github.com/ashureev/tennis-onboard/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Tennis AI onboarding assistant",
	Long: `Talk to the tennis onboarding assistant from the terminal.

Configuration is read from the environment (and a .env file when present),
the same way the server reads it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log gateway and storage activity to stderr")
	rootCmd.AddCommand(chatCmd, sessionsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the dependencies for a command.
func setup(ctx context.Context) (*app.App, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return app.New(ctx, cfg, logger)
}
