package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/multibot/core/ai"
	"github.com/m3rciful/multibot/core/database"
	"github.com/m3rciful/multibot/core/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A second pool connection would see a different empty :memory: database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(database.SQLiteSchema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedBot(t *testing.T, db *sqlx.DB, token string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO bots (token, name) VALUES (?, ?)`, token, "TestBot")
	if err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("bot id: %v", err)
	}
	return id
}

func TestSQLStoreGetAbsent(t *testing.T) {
	store := NewSQLStore(newTestDB(t), 0)
	sess, err := store.Get(context.Background(), 404)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected absent session, got %+v", sess)
	}
}

func TestSQLStoreSetStateExpiry(t *testing.T) {
	store := NewSQLStore(newTestDB(t), 0)
	ctx := context.Background()

	before := time.Now()
	if err := store.SetState(ctx, 1, StateAwaitingPrompt, 5*time.Minute); err != nil {
		t.Fatal(err)
	}
	sess, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil || sess.State != StateAwaitingPrompt {
		t.Fatalf("state = %+v, want awaiting_prompt", sess)
	}
	if sess.StateExpiresAt == nil {
		t.Fatal("expiry must be set")
	}
	low := before.Add(5*time.Minute - 2*time.Second)
	high := before.Add(5*time.Minute + 2*time.Second)
	if sess.StateExpiresAt.Before(low) || sess.StateExpiresAt.After(high) {
		t.Fatalf("expiry %v outside now+5m window", sess.StateExpiresAt)
	}

	// Transition to idle always clears expiry.
	if err := store.SetState(ctx, 1, StateIdle, 0); err != nil {
		t.Fatal(err)
	}
	sess, err = store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateIdle || sess.StateExpiresAt != nil {
		t.Fatalf("idle session should have nil expiry, got %+v", sess)
	}
}

func TestSQLStoreIdleIgnoresDuration(t *testing.T) {
	store := NewSQLStore(newTestDB(t), 0)
	ctx := context.Background()

	if err := store.SetState(ctx, 2, StateIdle, 5*time.Minute); err != nil {
		t.Fatal(err)
	}
	sess, err := store.Get(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if sess.StateExpiresAt != nil {
		t.Fatal("idle transition must never store an expiry")
	}
}

func TestSQLStoreMalformedHistoryDegrades(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db, 0)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO chat_sessions (chat_id, history, updated_at) VALUES (?, ?, ?)`,
		7, "not json", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}

	sess, err := store.Get(ctx, 7)
	if err != nil {
		t.Fatalf("malformed history must not error: %v", err)
	}
	if len(sess.History) != 0 {
		t.Fatalf("history should degrade to empty, got %d entries", len(sess.History))
	}
}

func TestSQLStoreHistoryTrim(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db, 0)
	ctx := context.Background()

	// 999 complete turns already on record.
	preexisting := make([]ai.ChatMessage, 0, 1998)
	for i := 0; i < 999; i++ {
		u, a := turn(i)
		preexisting = append(preexisting, u, a)
	}
	encoded, err := json.Marshal(preexisting)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`INSERT INTO chat_sessions (chat_id, history, updated_at) VALUES (?, ?, ?)`,
		9, string(encoded), "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}

	u, a := turn(999)
	if err := store.AppendHistory(ctx, 9, 1, 1, u, a); err != nil {
		t.Fatal(err)
	}

	sess, err := store.Get(ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.History) != MaxHistoryMessages {
		t.Fatalf("len = %d, want %d", len(sess.History), MaxHistoryMessages)
	}
	last := sess.History[len(sess.History)-2:]
	if last[0] != u || last[1] != a {
		t.Fatalf("last pair = %+v, want appended turn", last)
	}
}

func TestSQLStoreConcurrentAppendNoLostUpdate(t *testing.T) {
	store := NewSQLStore(newTestDB(t), 0)
	ctx := context.Background()

	const perWorker = 20
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				u := ai.ChatMessage{Role: ai.RoleUser, Content: fmt.Sprintf("w%d-q%d", w, i)}
				a := ai.ChatMessage{Role: ai.RoleAssistant, Content: fmt.Sprintf("w%d-a%d", w, i)}
				if err := store.AppendHistory(ctx, 11, 1, 1, u, a); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	sess, err := store.Get(ctx, 11)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.History) != 2*perWorker*2 {
		t.Fatalf("len = %d, want %d; an append was lost", len(sess.History), 2*perWorker*2)
	}
	seen := make(map[string]bool, len(sess.History))
	for _, m := range sess.History {
		seen[m.Content] = true
	}
	for w := 0; w < 2; w++ {
		for i := 0; i < perWorker; i++ {
			if !seen[fmt.Sprintf("w%d-q%d", w, i)] || !seen[fmt.Sprintf("w%d-a%d", w, i)] {
				t.Fatalf("worker %d turn %d missing from history", w, i)
			}
		}
	}
}

func TestSQLStoreListExpired(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLStore(db, 0)
	ctx := context.Background()
	botID := seedBot(t, db, "111:AAA")
	now := time.Now()

	insert := func(chatID int64, state State, expiresAt string) {
		t.Helper()
		_, err := db.Exec(`INSERT INTO chat_sessions (chat_id, user_id, bot_id, state, state_expires_at, updated_at)
			VALUES (?, 0, ?, ?, ?, ?)`,
			chatID, botID, string(state), expiresAt, formatTime(now))
		if err != nil {
			t.Fatal(err)
		}
	}

	insert(21, StateAwaitingPrompt, formatTime(now.Add(-time.Minute)))
	insert(22, StateAwaitingPrompt, formatTime(now.Add(time.Hour)))
	insert(23, StateIdle, "")

	expired, err := store.ListExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}
	if expired[0].ChatID != 21 || expired[0].BotToken != "111:AAA" {
		t.Fatalf("unexpected expired row: %+v", expired[0])
	}

	// Once reset to idle the chat leaves the scan predicate.
	if err := store.SetState(ctx, 21, StateIdle, 0); err != nil {
		t.Fatal(err)
	}
	expired, err = store.ListExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 0 {
		t.Fatalf("second scan should be empty, got %d", len(expired))
	}
}

func TestMemoryStoreMatchesContract(t *testing.T) {
	store := NewMemoryStore(4)
	ctx := context.Background()

	if err := store.SetState(ctx, 1, StateAwaitingPrompt, time.Minute); err != nil {
		t.Fatal(err)
	}
	sess, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateAwaitingPrompt || sess.StateExpiresAt == nil {
		t.Fatalf("unexpected session %+v", sess)
	}

	u, a := turn(1)
	for i := 0; i < 5; i++ {
		if err := store.AppendHistory(ctx, 1, 10, 20, u, a); err != nil {
			t.Fatal(err)
		}
	}
	sess, _ = store.Get(ctx, 1)
	if len(sess.History) != 4 {
		t.Fatalf("history len = %d, want trimmed to 4", len(sess.History))
	}

	store.SetBotToken(20, "222:BBB")
	_ = store.SetState(ctx, 1, StateAwaitingPrompt, -time.Minute)
	// A negative duration leaves a nil expiry, so force one in the past.
	if err := store.SetState(ctx, 1, StateAwaitingPrompt, time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	expired, err := store.ListExpired(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].BotToken != "222:BBB" {
		t.Fatalf("unexpected expired rows %+v", expired)
	}
}
