package sweeper

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/ai"
	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

type sentMessage struct {
	Token  string
	ChatID int64
	Text   string
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentMessage
	menus    []string
	failSend map[int64]error
}

func (f *fakeMessenger) SendText(_ context.Context, token string, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failSend[chatID]; ok {
		return err
	}
	f.sent = append(f.sent, sentMessage{Token: token, ChatID: chatID, Text: text})
	return nil
}

func (f *fakeMessenger) SetMenu(_ context.Context, token string, _ []tele.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, token)
	return nil
}

func (f *fakeMessenger) sentFor(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func expiredStore(t *testing.T, chatIDs ...int64) *session.MemoryStore {
	t.Helper()
	store := session.NewMemoryStore(0)
	store.SetBotToken(1, "1:A")
	ctx := context.Background()
	for _, id := range chatIDs {
		u := ai.ChatMessage{Role: ai.RoleUser, Content: "x"}
		a := ai.ChatMessage{Role: ai.RoleAssistant, Content: "y"}
		if err := store.AppendHistory(ctx, id, 0, 1, u, a); err != nil {
			t.Fatal(err)
		}
		if err := store.SetState(ctx, id, session.StateAwaitingPrompt, time.Nanosecond); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(5 * time.Millisecond)
	return store
}

func TestRunOnceResetsExpired(t *testing.T) {
	store := expiredStore(t, 100)
	client := &fakeMessenger{}
	s := New(store, client, time.Minute)

	s.RunOnce(context.Background())

	sess, err := store.Get(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != session.StateIdle || sess.StateExpiresAt != nil {
		t.Fatalf("session not reset: %+v", sess)
	}
	if msgs := client.sentFor(100); len(msgs) != 1 || msgs[0].Text != ExpiredNotice {
		t.Fatalf("expected one expiry notice, got %+v", msgs)
	}
	if len(client.menus) != 1 {
		t.Fatalf("menu restore count = %d", len(client.menus))
	}
}

func TestSecondSweepDoesNotRenotify(t *testing.T) {
	store := expiredStore(t, 100)
	client := &fakeMessenger{}
	s := New(store, client, time.Minute)

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	if msgs := client.sentFor(100); len(msgs) != 1 {
		t.Fatalf("chat re-notified: %+v", msgs)
	}
}

func TestFailingChatDoesNotBlockOthers(t *testing.T) {
	store := expiredStore(t, 100, 200)
	client := &fakeMessenger{failSend: map[int64]error{100: errors.New("blocked by user")}}
	s := New(store, client, time.Minute)

	s.RunOnce(context.Background())

	if msgs := client.sentFor(200); len(msgs) != 1 {
		t.Fatalf("second chat not processed: %+v", msgs)
	}
	// The failing chat still gets reset so it cannot expire-loop.
	sess, _ := store.Get(context.Background(), 100)
	if sess.State != session.StateIdle {
		t.Fatalf("failing chat state = %v", sess.State)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	store := session.NewMemoryStore(0)
	s := New(store, &fakeMessenger{}, time.Hour)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	first := s.cron
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.cron != first {
		t.Fatal("second Start must not build a new timer")
	}
	s.Stop()
}

func TestStopHaltsSweeps(t *testing.T) {
	store := session.NewMemoryStore(0)
	s := New(store, &fakeMessenger{}, time.Hour)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	// Stop twice is safe.
	s.Stop()
	if s.running.Load() {
		t.Fatal("sweeper still marked running after Stop")
	}
}
