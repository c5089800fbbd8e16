package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chat-sync/internal/app"
	"chat-sync/internal/config"
	"chat-sync/internal/logger"
	"chat-sync/internal/minimize"
)

var (
	envFile string
	version = "dev"

	logOutput io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "chat-sync",
	Short: "Copy chat sessions from Redis into MongoDB",
	Long: `chat-sync periodically copies chat sessions from the Redis session store
(local Redis or Upstash over REST) into a MongoDB collection, optionally
reducing each session to a compact form first.

Configuration is read from the environment; a .env.local file in the working
directory is loaded first without overriding variables already set.

  chat-sync run       # sync now and then every SYNC_INTERVAL_MS
  chat-sync once      # a single pass
  chat-sync config    # print the resolved configuration`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.EnvFile, "dotenv file loaded before reading the environment")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(runCmd, onceCmd, configCmd)
}

// loadEnvFile loads path into the environment. A missing file is ignored.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setup resolves and validates the configuration and builds the logger.
// Nothing is connected yet.
func setup(ctx context.Context) (config.Config, zerolog.Logger, error) {
	if err := loadEnvFile(envFile); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	cfg := config.Load(os.Getenv)
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: logOutput})

	cfg, err := app.LoadSecrets(ctx, cfg)
	if err != nil {
		return cfg, log, err
	}
	// main reports validation errors
	if err := cfg.Validate(); err != nil {
		return cfg, log, err
	}
	if limit := minimize.MaxSummaryLength(cfg.MaxMessageLength); cfg.Optimize && cfg.MaxMessageLength > 0 && cfg.SummaryLength > limit {
		log.Warn().
			Int("summary_length", cfg.SummaryLength).
			Int("effective_summary_length", limit).
			Int("max_message_length", cfg.MaxMessageLength).
			Msg("summary length clamped so truncated messages never grow")
	}
	log.Info().
		Bool("use_local_redis", cfg.UseLocalRedis).
		Str("database", cfg.MongoDatabase).
		Str("collection", cfg.MongoCollection).
		Dur("sync_interval", cfg.SyncInterval).
		Bool("optimize", cfg.Optimize).
		Int("max_message_length", cfg.MaxMessageLength).
		Int("summary_length", cfg.SummaryLength).
		Bool("keep_system_messages", cfg.KeepSystemMessages).
		Bool("keep_metadata", cfg.KeepMetadata).
		Int("workers", cfg.Workers).
		Msg("configuration loaded")
	return cfg, log, nil
}
