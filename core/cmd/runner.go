package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m3rciful/multibot/core/bootstrap"
	coreconfig "github.com/m3rciful/multibot/core/config"
	coredatabase "github.com/m3rciful/multibot/core/database"
	"github.com/m3rciful/multibot/core/logger"

	"log/slog"
)

// Options describe how to locate configuration and build the application.
type Options struct {
	// ConfigPath wins over the environment variable when set (CLI flag).
	ConfigPath        string
	ConfigEnvVar      string
	DefaultConfigPath string

	// Build exists for tests; nil selects bootstrap.BuildApp.
	Build func(ctx context.Context, cfg *coreconfig.Config, dbCfg coredatabase.Config) (*bootstrap.App, error)
}

func resolveConfigPath(opts Options) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	if opts.DefaultConfigPath != "" {
		return opts.DefaultConfigPath, nil
	}
	return "", fmt.Errorf("cmd: config path not provided via flag, %s, or DefaultConfigPath", env)
}

// Run loads configuration, builds the application, and serves until the
// process receives SIGINT or SIGTERM.
func Run(opts Options) error {
	cfgPath, err := resolveConfigPath(opts)
	if err != nil {
		return err
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}
	dbCfg, err := coredatabase.LoadConfig()
	if err != nil {
		return fmt.Errorf("cmd: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	build := opts.Build
	if build == nil {
		build = bootstrap.BuildApp
	}

	startedAt := time.Now()
	app, err := build(ctx, cfg, dbCfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close error: %v", err)
		}
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	logger.L.With("component", "app").Info("app ready",
		slog.String("event", "ready"),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)

	err = app.Run(ctx)
	logger.L.With("component", "app").Info("shutting down...",
		slog.String("event", "shutdown"),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
