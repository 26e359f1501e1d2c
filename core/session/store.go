package session

import (
	"context"
	"time"

	"github.com/m3rciful/multibot/core/ai"
)

// Store is the persistence contract for chat sessions. Implementations must
// guarantee that SetState and AppendHistory are each safe against concurrent
// calls for the same chat: SetState through an atomic upsert, AppendHistory
// through per-chat serialization of its read-modify-write span.
type Store interface {
	// Get loads the session for a chat, or (nil, nil) when none exists.
	// Malformed persisted history degrades to an empty transcript with a
	// warning log instead of an error.
	Get(ctx context.Context, chatID int64) (*ChatSession, error)

	// SetState upserts the chat's state and its absolute expiry computed
	// from now + expiresIn. A zero expiresIn, or any transition to idle,
	// stores a null expiry.
	SetState(ctx context.Context, chatID int64, st State, expiresIn time.Duration) error

	// AppendHistory appends one (user, assistant) turn under the given
	// user/bot association, trimming the transcript to the history bound.
	AppendHistory(ctx context.Context, chatID, userID, botID int64, userMsg, assistantMsg ai.ChatMessage) error

	// ListExpired returns every awaiting_prompt chat whose deadline lies
	// strictly before now, with the owning bot's token resolved.
	ListExpired(ctx context.Context, now time.Time) ([]ExpiredSession, error)
}
