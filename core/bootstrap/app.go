package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/multibot/core/ai"
	"github.com/m3rciful/multibot/core/botuser"
	coreconfig "github.com/m3rciful/multibot/core/config"
	coredatabase "github.com/m3rciful/multibot/core/database"
	"github.com/m3rciful/multibot/core/router"
	"github.com/m3rciful/multibot/core/session"
	"github.com/m3rciful/multibot/core/sweeper"
	coretelegram "github.com/m3rciful/multibot/core/telegram"
	"github.com/m3rciful/multibot/core/telegram/commands"
	"github.com/m3rciful/multibot/core/telegram/sender"
	"github.com/m3rciful/multibot/core/webhook"
)

// App is the fully wired application: storage, providers, transport, the
// update router, the expiry sweeper, and the webhook server.
type App struct {
	Config *coreconfig.Config

	DB         *sqlx.DB
	Sessions   *session.SQLStore
	Directory  *botuser.Directory
	Telegram   *coretelegram.Client
	Router     *router.Router
	Sweeper    *sweeper.Sweeper
	Server     *webhook.Server
	Dispatcher *sender.Dispatcher
}

// BuildApp runs the infrastructure pipeline and composes every component.
// Registered bots from config are synced into the directory before the app
// is returned, so handlers never observe a half-seeded registry.
func BuildApp(ctx context.Context, cfg *coreconfig.Config, dbCfg coredatabase.Config) (*App, error) {
	res, err := Run(Options{Config: cfg, Database: dbCfg})
	if err != nil {
		return nil, err
	}

	directory := botuser.NewDirectory(res.DB)
	if err := directory.SyncBots(ctx, cfg.Telegram.Bots); err != nil {
		_ = res.DB.Close()
		return nil, fmt.Errorf("bootstrap: bot sync failed: %w", err)
	}

	gen, err := ai.New(cfg.AI.Provider, cfg.AI)
	if err != nil {
		_ = res.DB.Close()
		return nil, fmt.Errorf("bootstrap: ai provider: %w", err)
	}
	asr, err := ai.New(cfg.ASR.Provider, cfg.AI)
	if err != nil {
		_ = res.DB.Close()
		return nil, fmt.Errorf("bootstrap: asr provider: %w", err)
	}

	sessions := session.NewSQLStore(res.DB, cfg.Session.HistoryLimit)
	client := coretelegram.NewClient(cfg.Telegram)

	rtr := router.New(router.Options{
		Sessions:  sessions,
		Directory: directory,
		Client:    client,
		Generator: gen,
		ASR:       asr,
		Session:   cfg.Session,
		AI:        cfg.AI,
		ASRConf:   cfg.ASR,
	})

	swp := sweeper.New(sessions, client,
		time.Duration(cfg.Session.SweepIntervalSeconds)*time.Second)
	srv := webhook.New(cfg.Server, cfg.Telegram.SecretToken, rtr, directory)

	return &App{
		Config:     cfg,
		DB:         res.DB,
		Sessions:   sessions,
		Directory:  directory,
		Telegram:   client,
		Router:     rtr,
		Sweeper:    swp,
		Server:     srv,
		Dispatcher: sender.NewDispatcher(sender.Options{}),
	}, nil
}

// Run starts the sweeper, optionally registers webhooks with Telegram, and
// serves HTTP until ctx is cancelled. Per-bot command menus are registered
// through the dispatcher so a slow Bot API never delays startup.
func (a *App) Run(ctx context.Context) error {
	if a.Config.Telegram.SyncWebhooks {
		tokens := make([]string, 0, len(a.Config.Telegram.Bots))
		for _, b := range a.Config.Telegram.Bots {
			tokens = append(tokens, b.Token)
		}
		if err := a.Telegram.SyncWebhooks(ctx, tokens); err != nil {
			return fmt.Errorf("webhook sync: %w", err)
		}
	}

	for _, b := range a.Config.Telegram.Bots {
		token := b.Token
		_ = a.Dispatcher.Enqueue(ctx, "setMyCommands", "", func() error {
			return a.Telegram.SetMenu(ctx, token, commands.Standard())
		})
	}

	if err := a.Sweeper.Start(); err != nil {
		return err
	}
	defer a.Sweeper.Stop()

	return a.Server.Run(ctx)
}

// Close releases held resources. Safe after a failed or finished Run.
func (a *App) Close() error {
	a.Sweeper.Stop()
	a.Dispatcher.Close()
	return a.DB.Close()
}
