package botuser

import "database/sql"

// Bot is one registered Telegram bot identity.
type Bot struct {
	ID         int64          `db:"id"`
	Token      string         `db:"token"`
	Name       sql.NullString `db:"name"`
	Username   sql.NullString `db:"username"`
	TelegramID sql.NullInt64  `db:"telegram_id"`
	IsActive   bool           `db:"is_active"`
	CreatedAt  string         `db:"created_at"`
	UpdatedAt  string         `db:"updated_at"`
}

// DisplayName prefers the configured name and falls back to the username or token-less placeholder.
func (b Bot) DisplayName() string {
	if b.Name.Valid && b.Name.String != "" {
		return b.Name.String
	}
	if b.Username.Valid && b.Username.String != "" {
		return "@" + b.Username.String
	}
	return "unnamed bot"
}

// User mirrors one Telegram account seen by any of the managed bots.
type User struct {
	ID           int64          `db:"id"`
	TelegramID   int64          `db:"telegram_id"`
	FirstName    sql.NullString `db:"first_name"`
	LastName     sql.NullString `db:"last_name"`
	Username     sql.NullString `db:"username"`
	LanguageCode sql.NullString `db:"language_code"`
	IsBot        bool           `db:"is_bot"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
}

// UserBot holds per-(user, bot) settings, currently the custom system prompt.
type UserBot struct {
	UserID   int64          `db:"user_id"`
	BotID    int64          `db:"bot_id"`
	Prompt   sql.NullString `db:"prompt"`
	IsActive bool           `db:"is_active"`
}

// TelegramIdentity is the sender identity carried by an inbound update.
type TelegramIdentity struct {
	ID           int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
	IsBot        bool
}
