package session

import (
	"time"

	"github.com/m3rciful/multibot/core/ai"
)

// State identifies a step of the per-chat conversation state machine.
type State string

const (
	// StateIdle indicates there is no pending interaction with the chat.
	StateIdle State = "idle"
	// StateAwaitingPrompt indicates the chat is waiting for the user to
	// submit a custom system prompt, bounded by an expiry deadline.
	StateAwaitingPrompt State = "awaiting_prompt"
)

// ChatSession is one chat's persisted conversation record. A row is created
// implicitly on the first state change or history append for the chat; the
// user/bot association may hold sentinel zeros until a real association is
// known.
type ChatSession struct {
	ChatID         int64
	UserID         int64
	BotID          int64
	State          State
	StateExpiresAt *time.Time
	History        []ai.ChatMessage
	UpdatedAt      time.Time
}

// Expired reports whether the session is in awaiting_prompt with a deadline
// at or before now. Idle sessions never expire.
func (s *ChatSession) Expired(now time.Time) bool {
	if s == nil || s.State != StateAwaitingPrompt || s.StateExpiresAt == nil {
		return false
	}
	return !s.StateExpiresAt.After(now)
}

// ExpiredSession is one row of a sweeper scan: an awaiting_prompt chat whose
// deadline has passed, with the owning bot's token resolved for outbound
// notification.
type ExpiredSession struct {
	ChatID    int64
	BotToken  string
	ExpiresAt time.Time
}
