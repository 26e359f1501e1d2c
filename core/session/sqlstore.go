package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/multibot/core/ai"
	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

// timeLayout is RFC3339 UTC at second precision. The fixed width keeps
// lexicographic comparison chronological, so expiry scans work identically
// on Postgres and SQLite without backend time functions.
const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

type sessionRow struct {
	ChatID         int64          `db:"chat_id"`
	UserID         int64          `db:"user_id"`
	BotID          int64          `db:"bot_id"`
	State          string         `db:"state"`
	StateExpiresAt sql.NullString `db:"state_expires_at"`
	History        sql.NullString `db:"history"`
	UpdatedAt      string         `db:"updated_at"`
}

// SQLStore persists chat sessions through sqlx. State changes are a single
// atomic upsert; history appends serialize per chat through a lazily created
// mutex so concurrent turns for the same chat cannot lose each other's read.
type SQLStore struct {
	db    *sqlx.DB
	limit int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewSQLStore builds a session store over an open sqlx handle. historyLimit
// <= 0 falls back to MaxHistoryMessages.
func NewSQLStore(db *sqlx.DB, historyLimit int) *SQLStore {
	if historyLimit <= 0 {
		historyLimit = MaxHistoryMessages
	}
	return &SQLStore{
		db:    db,
		limit: historyLimit,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (s *SQLStore) chatLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

func (s *SQLStore) Get(ctx context.Context, chatID int64) (*ChatSession, error) {
	var row sessionRow
	query := s.db.Rebind(`SELECT chat_id, user_id, bot_id, state, state_expires_at, history, updated_at
		FROM chat_sessions WHERE chat_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("session get: %w", err)
	}
	return s.fromRow(row), nil
}

func (s *SQLStore) fromRow(row sessionRow) *ChatSession {
	out := &ChatSession{
		ChatID: row.ChatID,
		UserID: row.UserID,
		BotID:  row.BotID,
		State:  State(row.State),
	}
	if row.StateExpiresAt.Valid && row.StateExpiresAt.String != "" {
		if t, err := parseTime(row.StateExpiresAt.String); err == nil {
			out.StateExpiresAt = &t
		}
	}
	if row.UpdatedAt != "" {
		if t, err := parseTime(row.UpdatedAt); err == nil {
			out.UpdatedAt = t
		}
	}
	out.History = s.decodeHistory(row.ChatID, row.History)
	return out
}

// decodeHistory degrades malformed transcripts to empty instead of failing:
// a broken row must not take the chat out of service.
func (s *SQLStore) decodeHistory(chatID int64, raw sql.NullString) []ai.ChatMessage {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var history []ai.ChatMessage
	if err := json.Unmarshal([]byte(raw.String), &history); err != nil {
		logger.SVCSessions.Warn("history unreadable, degrading to empty",
			slog.String("event", "history.decode"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return nil
	}
	return history
}

func (s *SQLStore) SetState(ctx context.Context, chatID int64, st State, expiresIn time.Duration) error {
	now := time.Now()
	var expiresAt any
	if st == StateAwaitingPrompt && expiresIn > 0 {
		expiresAt = formatTime(now.Add(expiresIn))
	}

	query := s.db.Rebind(`INSERT INTO chat_sessions (chat_id, user_id, bot_id, state, state_expires_at, updated_at)
		VALUES (?, 0, 0, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			state = excluded.state,
			state_expires_at = excluded.state_expires_at,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, chatID, string(st), expiresAt, formatTime(now)); err != nil {
		return fmt.Errorf("session set state: %w", err)
	}

	logger.SVCSessions.Debug("state updated",
		slog.String("event", "state.set"),
		slog.Int64("chat_id", chatID),
		slog.String("state", string(st)),
	)
	return nil
}

func (s *SQLStore) AppendHistory(ctx context.Context, chatID, userID, botID int64, userMsg, assistantMsg ai.ChatMessage) error {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	var existing []ai.ChatMessage
	if current != nil {
		existing = current.History
	}

	trimmed := AppendTrimmed(existing, userMsg, assistantMsg, s.limit)
	encoded, err := json.Marshal(trimmed)
	if err != nil {
		return fmt.Errorf("session encode history: %w", err)
	}

	query := s.db.Rebind(`INSERT INTO chat_sessions (chat_id, user_id, bot_id, history, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			history = excluded.history,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, chatID, userID, botID, string(encoded), formatTime(time.Now())); err != nil {
		return fmt.Errorf("session append history: %w", err)
	}

	logger.SVCSessions.Debug("history appended",
		slog.String("event", "history.append"),
		slog.Int64("chat_id", chatID),
		slog.Int("history_len", len(trimmed)),
	)
	return nil
}

func (s *SQLStore) ListExpired(ctx context.Context, now time.Time) ([]ExpiredSession, error) {
	type expiredRow struct {
		ChatID         int64  `db:"chat_id"`
		BotToken       string `db:"bot_token"`
		StateExpiresAt string `db:"state_expires_at"`
	}

	query := s.db.Rebind(`SELECT cs.chat_id, b.token AS bot_token, cs.state_expires_at
		FROM chat_sessions cs
		JOIN bots b ON cs.bot_id = b.id
		WHERE cs.state = ?
		  AND cs.state_expires_at IS NOT NULL
		  AND cs.state_expires_at <> ''
		  AND cs.state_expires_at < ?`)

	var rows []expiredRow
	if err := s.db.SelectContext(ctx, &rows, query, string(StateAwaitingPrompt), formatTime(now)); err != nil {
		return nil, fmt.Errorf("session list expired: %w", err)
	}

	out := make([]ExpiredSession, 0, len(rows))
	for _, r := range rows {
		exp := ExpiredSession{ChatID: r.ChatID, BotToken: r.BotToken}
		if t, err := parseTime(r.StateExpiresAt); err == nil {
			exp.ExpiresAt = t
		}
		out = append(out, exp)
	}
	return out, nil
}
