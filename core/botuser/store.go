package botuser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

const timeLayout = "2006-01-02T15:04:05Z"

func nowString() string {
	return time.Now().UTC().Truncate(time.Second).Format(timeLayout)
}

// Directory persists users, bots, and their per-pair settings.
type Directory struct {
	db *sqlx.DB
}

// NewDirectory builds a Directory over an open sqlx handle.
func NewDirectory(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

// BotByToken resolves a registered bot by its token, or (nil, nil) when the
// token is unknown.
func (d *Directory) BotByToken(ctx context.Context, token string) (*Bot, error) {
	var bot Bot
	query := d.db.Rebind(`SELECT * FROM bots WHERE token = ?`)
	if err := d.db.GetContext(ctx, &bot, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("bot by token: %w", err)
	}
	return &bot, nil
}

// KnownToken reports whether any registered bot carries the token. Inactive
// bots still count: Telegram keeps delivering updates until their webhook is
// torn down, and dropping those on the floor would make it retry.
func (d *Directory) KnownToken(ctx context.Context, token string) (bool, error) {
	bot, err := d.BotByToken(ctx, token)
	if err != nil {
		return false, err
	}
	return bot != nil, nil
}

// FindOrCreateUser resolves the user row for a Telegram identity, creating
// it on first contact.
func (d *Directory) FindOrCreateUser(ctx context.Context, identity TelegramIdentity) (*User, error) {
	user, err := d.UserByTelegramID(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	logger.SVCBots.Info("creating new user",
		slog.String("event", "user.create"),
		slog.Int64("user_id", identity.ID),
		slog.String("username", identity.Username),
	)

	now := nowString()
	query := d.db.Rebind(`INSERT INTO users (telegram_id, first_name, last_name, username, language_code, is_bot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (telegram_id) DO NOTHING`)
	if _, err := d.db.ExecContext(ctx, query,
		identity.ID, identity.FirstName, identity.LastName, identity.Username,
		identity.LanguageCode, identity.IsBot, now, now,
	); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	user, err = d.UserByTelegramID(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found after insert", identity.ID)
	}
	return user, nil
}

// UserByTelegramID resolves an existing user by Telegram id, or (nil, nil)
// when the user has never talked to any managed bot.
func (d *Directory) UserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	var user User
	query := d.db.Rebind(`SELECT * FROM users WHERE telegram_id = ?`)
	if err := d.db.GetContext(ctx, &user, query, telegramID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("user by telegram id: %w", err)
	}
	return &user, nil
}

// SetPrompt upserts the custom system prompt for a (user, bot) pair.
func (d *Directory) SetPrompt(ctx context.Context, userID, botID int64, prompt string) error {
	now := nowString()
	query := d.db.Rebind(`INSERT INTO user_bots (user_id, bot_id, prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, bot_id) DO UPDATE SET
			prompt = excluded.prompt,
			updated_at = excluded.updated_at`)
	if _, err := d.db.ExecContext(ctx, query, userID, botID, prompt, now, now); err != nil {
		return fmt.Errorf("set prompt: %w", err)
	}
	logger.SVCBots.Debug("prompt updated",
		slog.String("event", "prompt.set"),
		slog.Int64("user_id", userID),
		slog.Int64("bot_id", botID),
	)
	return nil
}

// Prompt returns the custom prompt for a (user, bot) pair, or "" when unset.
func (d *Directory) Prompt(ctx context.Context, userID, botID int64) (string, error) {
	var prompt sql.NullString
	query := d.db.Rebind(`SELECT prompt FROM user_bots WHERE user_id = ? AND bot_id = ?`)
	if err := d.db.GetContext(ctx, &prompt, query, userID, botID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get prompt: %w", err)
	}
	if !prompt.Valid {
		return "", nil
	}
	return prompt.String, nil
}

// ActiveBots lists every registered bot that is currently enabled.
func (d *Directory) ActiveBots(ctx context.Context) ([]Bot, error) {
	var bots []Bot
	query := d.db.Rebind(`SELECT * FROM bots WHERE is_active = ? ORDER BY id`)
	if err := d.db.SelectContext(ctx, &bots, query, true); err != nil {
		return nil, fmt.Errorf("active bots: %w", err)
	}
	return bots, nil
}

// UserBots lists all per-bot settings a user has configured.
func (d *Directory) UserBots(ctx context.Context, userID int64) ([]UserBot, error) {
	var rows []UserBot
	query := d.db.Rebind(`SELECT user_id, bot_id, prompt, is_active FROM user_bots WHERE user_id = ?`)
	if err := d.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("user bots: %w", err)
	}
	return rows, nil
}
