// Package cmd defines the movieingest CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/app"
	"github.com/JakeFAU/movie-ingest/internal/config"
	"github.com/JakeFAU/movie-ingest/internal/logging"
)

type settingsKeyType string

const settingsKey settingsKeyType = "settings"

// settings is what the root command resolves before any subcommand runs.
type settings struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the service factory. Tests swap it for one that builds memory backends.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// loadConfig reads .env, the optional config file and the environment.
var loadConfig = func(path string) (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "movieingest",
		Short: "Scrapes movie search results into Postgres and serves them over REST.",
		Long: `movieingest renders a movie search-results page, extracts one record per
title and upserts them into a Postgres table keyed by title. The serve command
exposes the stored movies over a REST API and accepts scrape requests.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), settingsKey, settings{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); MOVIES_* env vars override it")
	cmd.AddCommand(newScrapeCmd(), newServeCmd(), newMigrateCmd())
	return cmd
}

// withApp builds the shared services for one command run and closes them when fn
// returns, whether or not it failed.
func withApp(fn func(cmd *cobra.Command, args []string, services *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, ok := cmd.Context().Value(settingsKey).(settings)
		if !ok {
			return errors.New("configuration not loaded")
		}
		services, err := newApp(cmd.Context(), s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize application services: %w", err)
		}
		defer func() {
			services.Close()
			_ = s.logger.Sync()
		}()
		return fn(cmd, args, services)
	}
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
