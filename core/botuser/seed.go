package botuser

import (
	"context"
	"fmt"

	coreconfig "github.com/m3rciful/multibot/core/config"
	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

// SyncBots reconciles the bots table with the configured bot list inside one
// transaction: everything is first marked inactive, then each configured bot
// is upserted back as active. Bots removed from configuration stay in the
// table but stop serving traffic.
func (d *Directory) SyncBots(ctx context.Context, bots []coreconfig.BotConfig) error {
	logger.SEED.Info("bot sync started",
		slog.String("event", "bots.sync"),
		slog.Int("count", len(bots)),
	)
	if len(bots) == 0 {
		logger.SEED.Warn("no bots configured, marking all inactive",
			slog.String("event", "bots.sync"),
		)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bot sync begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE bots SET is_active = ?`), false); err != nil {
		return fmt.Errorf("bot sync deactivate: %w", err)
	}

	now := nowString()
	upsert := tx.Rebind(`INSERT INTO bots (token, name, username, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			name = excluded.name,
			username = excluded.username,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`)
	for _, bot := range bots {
		if _, err := tx.ExecContext(ctx, upsert, bot.Token, bot.Name, bot.Username, true, now, now); err != nil {
			return fmt.Errorf("bot sync upsert %q: %w", bot.Name, err)
		}
		logger.SEED.Debug("bot activated",
			slog.String("event", "bots.sync"),
			slog.String("payload", bot.Name),
		)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bot sync commit: %w", err)
	}
	logger.SEED.Info("bot sync complete",
		slog.String("event", "bots.sync"),
		slog.String("status", "ok"),
		slog.Int("count", len(bots)),
	)
	return nil
}
