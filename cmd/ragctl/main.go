// Package main provides ragctl, the command line for managing, training and
// querying ragbot chatbots.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bull/ragbot/internal/app"
	"github.com/bull/ragbot/internal/config"
	"github.com/bull/ragbot/internal/logging"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Manage, train and query ragbot chatbots",
	Long: `ragctl drives the ragbot pipeline directly: create chatbots, train them
from text, files or GitHub, and ask them questions.

Configuration is read from ragbot.yaml (or --config) and RAGBOT_* environment
variables. OPENAI_API_KEY, GEMINI_API_KEY, QDRANT_HOST and GITHUB_TOKEN are
accepted as well.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./ragbot.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warn")

	rootCmd.AddCommand(chatbotCmd, trainCmd, askCmd, docsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp builds the application for one command and closes it afterwards.
// The context is cancelled on SIGINT.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if !verbose {
		level = "warn"
	}
	logger, err := logging.New(level, "console", "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}
