package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/m3rciful/multibot/core/bootstrap"
	"github.com/m3rciful/multibot/core/buildinfo"
	"github.com/m3rciful/multibot/core/cmd"
	coreconfig "github.com/m3rciful/multibot/core/config"
	coredatabase "github.com/m3rciful/multibot/core/database"
	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
	"github.com/m3rciful/multibot/core/sweeper"
	"github.com/m3rciful/multibot/core/telegram"
)

func main() {
	// .env is optional; real deployments set variables directly.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "multibot",
		Short:   "Multi-tenant Telegram bot backend",
		Version: fmt.Sprintf("%s (%s)", buildinfo.Version, buildinfo.Commit),
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and session sweeper",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.Run(cmd.Options{
				ConfigPath:        configPath,
				DefaultConfigPath: "config.yaml",
			})
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrate(configPath)
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiration sweep and exit",
		RunE: func(c *cobra.Command, _ []string) error {
			return runSweep(c.Context(), configPath)
		},
	}

	root.AddCommand(serve, migrate, sweep)
	return root
}

func loadConfig(configPath string) (*coreconfig.Config, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config.yaml"
	}
	return coreconfig.Load(configPath)
}

func runMigrate(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Shutdown() }()

	dbCfg, err := coredatabase.LoadConfig()
	if err != nil {
		return err
	}
	db, err := coredatabase.Connect(dbCfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return coredatabase.RunMigrations(dbCfg, db)
}

func runSweep(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	dbCfg, err := coredatabase.LoadConfig()
	if err != nil {
		return err
	}

	res, err := bootstrap.Run(bootstrap.Options{Config: cfg, Database: dbCfg})
	if err != nil {
		return err
	}
	defer func() { _ = res.DB.Close() }()
	defer func() { _ = logger.Shutdown() }()

	sessions := session.NewSQLStore(res.DB, cfg.Session.HistoryLimit)
	client := telegram.NewClient(cfg.Telegram)
	sweeper.New(sessions, client, 0).RunOnce(ctx)
	return nil
}
