package session

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/multibot/core/ai"
)

// MemoryStore is an in-memory Store implementation for tests and
// development. A single RWMutex serializes all mutations, which satisfies
// the per-chat serialization contract trivially.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[int64]*ChatSession
	botTokens map[int64]string
	limit     int
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = MaxHistoryMessages
	}
	return &MemoryStore{
		sessions:  make(map[int64]*ChatSession),
		botTokens: make(map[int64]string),
		limit:     historyLimit,
	}
}

// SetBotToken registers the token resolved for a bot id in expiry scans,
// mirroring the bots join the SQL store performs.
func (m *MemoryStore) SetBotToken(botID int64, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botTokens[botID] = token
}

func (m *MemoryStore) Get(_ context.Context, chatID int64) (*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[chatID]
	if !ok {
		return nil, nil
	}
	return cloneSession(sess), nil
}

func (m *MemoryStore) SetState(_ context.Context, chatID int64, st State, expiresIn time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[chatID]
	if !ok {
		sess = &ChatSession{ChatID: chatID}
		m.sessions[chatID] = sess
	}
	sess.State = st
	sess.StateExpiresAt = nil
	if st == StateAwaitingPrompt && expiresIn > 0 {
		t := time.Now().Add(expiresIn)
		sess.StateExpiresAt = &t
	}
	sess.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, chatID, userID, botID int64, userMsg, assistantMsg ai.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[chatID]
	if !ok {
		sess = &ChatSession{ChatID: chatID, State: StateIdle}
		m.sessions[chatID] = sess
	}
	sess.UserID = userID
	sess.BotID = botID
	sess.History = AppendTrimmed(sess.History, userMsg, assistantMsg, m.limit)
	sess.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListExpired(_ context.Context, now time.Time) ([]ExpiredSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ExpiredSession
	for _, sess := range m.sessions {
		if !sess.Expired(now) {
			continue
		}
		out = append(out, ExpiredSession{
			ChatID:    sess.ChatID,
			BotToken:  m.botTokens[sess.BotID],
			ExpiresAt: *sess.StateExpiresAt,
		})
	}
	return out, nil
}

func cloneSession(s *ChatSession) *ChatSession {
	out := *s
	if s.StateExpiresAt != nil {
		t := *s.StateExpiresAt
		out.StateExpiresAt = &t
	}
	out.History = append([]ai.ChatMessage(nil), s.History...)
	return &out
}
