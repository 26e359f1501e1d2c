package router

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/ai"
	"github.com/m3rciful/multibot/core/botuser"
	coreconfig "github.com/m3rciful/multibot/core/config"
	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

const testToken = "42:TEST"

type fakeDirectory struct {
	users   map[int64]*botuser.User
	bots    map[string]*botuser.Bot
	prompts map[[2]int64]string

	createdUsers int
	failPrompt   bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:   make(map[int64]*botuser.User),
		bots:    make(map[string]*botuser.Bot),
		prompts: make(map[[2]int64]string),
	}
}

func (d *fakeDirectory) addUser(telegramID, id int64) *botuser.User {
	u := &botuser.User{ID: id, TelegramID: telegramID}
	d.users[telegramID] = u
	return u
}

func (d *fakeDirectory) addBot(token string, id int64, name string) *botuser.Bot {
	b := &botuser.Bot{
		ID:       id,
		Token:    token,
		Name:     sql.NullString{String: name, Valid: name != ""},
		IsActive: true,
	}
	d.bots[token] = b
	return b
}

func (d *fakeDirectory) BotByToken(_ context.Context, token string) (*botuser.Bot, error) {
	return d.bots[token], nil
}

func (d *fakeDirectory) UserByTelegramID(_ context.Context, telegramID int64) (*botuser.User, error) {
	return d.users[telegramID], nil
}

func (d *fakeDirectory) FindOrCreateUser(_ context.Context, identity botuser.TelegramIdentity) (*botuser.User, error) {
	if u, ok := d.users[identity.ID]; ok {
		return u, nil
	}
	d.createdUsers++
	return d.addUser(identity.ID, int64(1000+d.createdUsers)), nil
}

func (d *fakeDirectory) SetPrompt(_ context.Context, userID, botID int64, prompt string) error {
	if d.failPrompt {
		return errors.New("prompt write failed")
	}
	d.prompts[[2]int64{userID, botID}] = prompt
	return nil
}

func (d *fakeDirectory) Prompt(_ context.Context, userID, botID int64) (string, error) {
	return d.prompts[[2]int64{userID, botID}], nil
}

func (d *fakeDirectory) ActiveBots(_ context.Context) ([]botuser.Bot, error) {
	var out []botuser.Bot
	for _, b := range d.bots {
		if b.IsActive {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (d *fakeDirectory) UserBots(_ context.Context, userID int64) ([]botuser.UserBot, error) {
	var out []botuser.UserBot
	for key, prompt := range d.prompts {
		if key[0] != userID {
			continue
		}
		out = append(out, botuser.UserBot{
			UserID: key[0],
			BotID:  key[1],
			Prompt: sql.NullString{String: prompt, Valid: true},
		})
	}
	return out, nil
}

type fakeOutbound struct {
	sent  []string
	menus [][]tele.Command
	voice map[string][]byte
}

func (o *fakeOutbound) SendText(_ context.Context, _ string, _ int64, text string) error {
	o.sent = append(o.sent, text)
	return nil
}

func (o *fakeOutbound) SetMenu(_ context.Context, _ string, commands []tele.Command) error {
	o.menus = append(o.menus, commands)
	return nil
}

func (o *fakeOutbound) DownloadVoice(_ context.Context, _, fileID string) ([]byte, error) {
	audio, ok := o.voice[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return audio, nil
}

type fakeGenerator struct {
	reply string
	err   error
	calls [][]ai.ChatMessage
}

func (g *fakeGenerator) GenerateText(_ context.Context, messages []ai.ChatMessage, _ *ai.GenerationOptions) (string, error) {
	g.calls = append(g.calls, messages)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return t.text, t.err
}

type fixture struct {
	router   *Router
	sessions *session.MemoryStore
	dir      *fakeDirectory
	out      *fakeOutbound
	gen      *fakeGenerator
	asr      *fakeTranscriber
}

func newFixture() *fixture {
	f := &fixture{
		sessions: session.NewMemoryStore(0),
		dir:      newFakeDirectory(),
		out:      &fakeOutbound{voice: make(map[string][]byte)},
		gen:      &fakeGenerator{reply: "assistant says hi"},
		asr:      &fakeTranscriber{text: "transcribed words"},
	}
	f.router = New(Options{
		Sessions:  f.sessions,
		Directory: f.dir,
		Client:    f.out,
		Generator: f.gen,
		ASR:       f.asr,
		Session:   coreconfig.SessionConfig{PromptTimeoutMinutes: 5},
	})
	return f
}

func update(chatID, senderID int64, text string) *tele.Update {
	return &tele.Update{
		ID: 1,
		Message: &tele.Message{
			Sender: &tele.User{ID: senderID, FirstName: "Ada"},
			Chat:   &tele.Chat{ID: chatID},
			Text:   text,
		},
	}
}

func voiceUpdate(chatID, senderID int64, fileID string) *tele.Update {
	return &tele.Update{
		ID: 2,
		Message: &tele.Message{
			Sender: &tele.User{ID: senderID, FirstName: "Ada"},
			Chat:   &tele.Chat{ID: chatID},
			Voice:  &tele.Voice{File: tele.File{FileID: fileID}},
		},
	}
}

func lastSent(t *testing.T, out *fakeOutbound) string {
	t.Helper()
	if len(out.sent) == 0 {
		t.Fatal("expected at least one outbound message")
	}
	return out.sent[len(out.sent)-1]
}

func TestHandleUpdateNilMessage(t *testing.T) {
	f := newFixture()

	f.router.HandleUpdate(context.Background(), testToken, nil)
	f.router.HandleUpdate(context.Background(), testToken, &tele.Update{ID: 7})

	if len(f.out.sent) != 0 {
		t.Fatalf("expected no outbound messages, got %v", f.out.sent)
	}
}

func TestStartCreatesUserAndGreets(t *testing.T) {
	f := newFixture()

	f.router.HandleUpdate(context.Background(), testToken, update(10, 500, "/start"))

	if f.dir.createdUsers != 1 {
		t.Fatalf("created users = %d, want 1", f.dir.createdUsers)
	}
	if got := lastSent(t, f.out); !strings.Contains(got, "Hello, Ada!") {
		t.Fatalf("welcome = %q", got)
	}
	if len(f.out.menus) != 1 {
		t.Fatalf("menus set = %d, want 1", len(f.out.menus))
	}

	// A second /start must not duplicate the user.
	f.router.HandleUpdate(context.Background(), testToken, update(10, 500, "/start"))
	if f.dir.createdUsers != 1 {
		t.Fatalf("created users after repeat = %d, want 1", f.dir.createdUsers)
	}
}

func TestSetPromptWithoutProfile(t *testing.T) {
	f := newFixture()
	f.dir.addBot(testToken, 1, "helper")

	f.router.HandleUpdate(context.Background(), testToken, update(10, 500, "/setprompt"))

	if got := lastSent(t, f.out); !strings.Contains(got, "/start first") {
		t.Fatalf("reply = %q, want /start guidance", got)
	}
	sess, _ := f.sessions.Get(context.Background(), 10)
	if sess != nil {
		t.Fatalf("no session should exist, got state %q", sess.State)
	}
}

func TestSetPromptFlowSavesPrompt(t *testing.T) {
	f := newFixture()
	user := f.dir.addUser(500, 9)
	bot := f.dir.addBot(testToken, 3, "helper")
	ctx := context.Background()

	f.router.HandleUpdate(ctx, testToken, update(10, 500, "/setprompt"))

	sess, err := f.sessions.Get(ctx, 10)
	if err != nil || sess == nil {
		t.Fatalf("session after /setprompt: %v, %v", sess, err)
	}
	if sess.State != session.StateAwaitingPrompt {
		t.Fatalf("state = %q, want awaiting_prompt", sess.State)
	}
	if sess.StateExpiresAt == nil {
		t.Fatal("expected an expiry deadline")
	}
	if got := lastSent(t, f.out); !strings.Contains(got, "enter your new system prompt") {
		t.Fatalf("instructions = %q", got)
	}

	f.router.HandleUpdate(ctx, testToken, update(10, 500, "You are a pirate."))

	if got := f.dir.prompts[[2]int64{user.ID, bot.ID}]; got != "You are a pirate." {
		t.Fatalf("saved prompt = %q", got)
	}
	sess, _ = f.sessions.Get(ctx, 10)
	if sess.State != session.StateIdle {
		t.Fatalf("state after save = %q, want idle", sess.State)
	}
	if got := lastSent(t, f.out); !strings.Contains(got, "Prompt successfully updated") {
		t.Fatalf("confirmation = %q", got)
	}
	if len(f.gen.calls) != 0 {
		t.Fatalf("generator called %d times during prompt save, want 0", len(f.gen.calls))
	}
}

func TestExpiredPromptFallsThroughToFreeform(t *testing.T) {
	f := newFixture()
	user := f.dir.addUser(500, 9)
	bot := f.dir.addBot(testToken, 3, "helper")
	ctx := context.Background()

	if err := f.sessions.SetState(ctx, 10, session.StateAwaitingPrompt, time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	f.router.HandleUpdate(ctx, testToken, update(10, 500, "hello there"))

	if _, ok := f.dir.prompts[[2]int64{user.ID, bot.ID}]; ok {
		t.Fatal("expired input must not be saved as a prompt")
	}
	sess, _ := f.sessions.Get(ctx, 10)
	if sess.State != session.StateIdle {
		t.Fatalf("state = %q, want idle", sess.State)
	}

	var sawExpiry, sawReply bool
	for _, text := range f.out.sent {
		if strings.Contains(text, "expired") {
			sawExpiry = true
		}
		if text == "assistant says hi" {
			sawReply = true
		}
	}
	if !sawExpiry || !sawReply {
		t.Fatalf("sent = %v, want expiry notice and AI reply", f.out.sent)
	}
	if len(f.gen.calls) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(f.gen.calls))
	}
}

func TestFreeformUsesCustomPromptAndHistory(t *testing.T) {
	f := newFixture()
	user := f.dir.addUser(500, 9)
	bot := f.dir.addBot(testToken, 3, "helper")
	ctx := context.Background()

	f.dir.prompts[[2]int64{user.ID, bot.ID}] = "You are terse."
	prior := []ai.ChatMessage{
		{Role: ai.RoleUser, Content: "earlier question"},
		{Role: ai.RoleAssistant, Content: "earlier answer"},
	}
	if err := f.sessions.AppendHistory(ctx, 10, user.ID, bot.ID, prior[0], prior[1]); err != nil {
		t.Fatal(err)
	}

	f.router.HandleUpdate(ctx, testToken, update(10, 500, "new question"))

	if len(f.gen.calls) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(f.gen.calls))
	}
	msgs := f.gen.calls[0]
	if len(msgs) != 4 {
		t.Fatalf("context size = %d, want 4", len(msgs))
	}
	if msgs[0].Role != ai.RoleSystem || msgs[0].Content != "You are terse." {
		t.Fatalf("system message = %+v", msgs[0])
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Fatalf("history not forwarded: %+v", msgs[1:3])
	}
	if msgs[3].Role != ai.RoleUser || msgs[3].Content != "new question" {
		t.Fatalf("final message = %+v", msgs[3])
	}

	sess, _ := f.sessions.Get(ctx, 10)
	if len(sess.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(sess.History))
	}
	last := sess.History[3]
	if last.Role != ai.RoleAssistant || last.Content != "assistant says hi" {
		t.Fatalf("last history entry = %+v", last)
	}
}

func TestFreeformDefaultsSystemPrompt(t *testing.T) {
	f := newFixture()
	f.dir.addUser(500, 9)
	f.dir.addBot(testToken, 3, "helper")

	f.router.HandleUpdate(context.Background(), testToken, update(10, 500, "hi"))

	if len(f.gen.calls) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(f.gen.calls))
	}
	if got := f.gen.calls[0][0].Content; got != DefaultSystemPrompt {
		t.Fatalf("system prompt = %q, want default", got)
	}
}

func TestFreeformGeneratorFailure(t *testing.T) {
	f := newFixture()
	f.dir.addUser(500, 9)
	f.dir.addBot(testToken, 3, "helper")
	f.gen.err = errors.New("upstream 500")

	f.router.HandleUpdate(context.Background(), testToken, update(10, 500, "hi"))

	if got := lastSent(t, f.out); !strings.Contains(got, "error while processing your message") {
		t.Fatalf("reply = %q, want apology", got)
	}
	sess, _ := f.sessions.Get(context.Background(), 10)
	if sess != nil && len(sess.History) != 0 {
		t.Fatalf("failed turn must not be recorded, history = %v", sess.History)
	}
}

func TestFreeformUnknownUser(t *testing.T) {
	f := newFixture()
	f.dir.addBot(testToken, 3, "helper")

	f.router.HandleUpdate(context.Background(), testToken, update(10, 500, "hi"))

	if got := lastSent(t, f.out); !strings.Contains(got, "/start command first") {
		t.Fatalf("reply = %q", got)
	}
	if len(f.gen.calls) != 0 {
		t.Fatal("generator must not run without a resolved user")
	}
}

func TestCancelFromIdleIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.router.HandleUpdate(ctx, testToken, update(10, 500, "/cancel"))
	f.router.HandleUpdate(ctx, testToken, update(10, 500, "/cancel"))

	sess, _ := f.sessions.Get(ctx, 10)
	if sess == nil || sess.State != session.StateIdle {
		t.Fatalf("session = %+v, want idle", sess)
	}
	if sess.StateExpiresAt != nil {
		t.Fatal("cancel must clear any expiry")
	}
	for _, text := range f.out.sent {
		if !strings.Contains(text, "Operation cancelled") {
			t.Fatalf("unexpected reply %q", text)
		}
	}
}

func TestCancelClearsAwaitingPrompt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.sessions.SetState(ctx, 10, session.StateAwaitingPrompt, time.Hour); err != nil {
		t.Fatal(err)
	}

	f.router.HandleUpdate(ctx, testToken, update(10, 500, "/cancel"))

	sess, _ := f.sessions.Get(ctx, 10)
	if sess.State != session.StateIdle || sess.StateExpiresAt != nil {
		t.Fatalf("session after cancel = %+v", sess)
	}
}

func TestBotsListsConfiguredAndAvailable(t *testing.T) {
	f := newFixture()
	user := f.dir.addUser(500, 9)
	configured := f.dir.addBot(testToken, 3, "Tuned Bot")
	f.dir.addBot("43:OTHER", 4, "Plain Bot")
	f.dir.prompts[[2]int64{user.ID, configured.ID}] = "You are terse."

	f.router.HandleUpdate(context.Background(), testToken, update(10, 500, "/bots"))

	got := lastSent(t, f.out)
	if !strings.Contains(got, "Configured Bots") || !strings.Contains(got, "Tuned Bot") {
		t.Fatalf("list missing configured section: %q", got)
	}
	if !strings.Contains(got, "Available Bots") || !strings.Contains(got, "Plain Bot") {
		t.Fatalf("list missing available section: %q", got)
	}
	if !strings.Contains(got, "`You are terse.`") {
		t.Fatalf("list missing prompt preview: %q", got)
	}
}

func TestVoiceTranscriptEntersFreeform(t *testing.T) {
	f := newFixture()
	f.dir.addUser(500, 9)
	f.dir.addBot(testToken, 3, "helper")
	f.out.voice["file-1"] = []byte("ogg-bytes")

	f.router.HandleUpdate(context.Background(), testToken, voiceUpdate(10, 500, "file-1"))

	if len(f.gen.calls) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(f.gen.calls))
	}
	msgs := f.gen.calls[0]
	if msgs[len(msgs)-1].Content != "transcribed words" {
		t.Fatalf("transcript not forwarded: %+v", msgs)
	}
	if got := lastSent(t, f.out); got != "assistant says hi" {
		t.Fatalf("reply = %q", got)
	}
}

func TestVoiceDownloadFailure(t *testing.T) {
	f := newFixture()
	f.dir.addUser(500, 9)
	f.dir.addBot(testToken, 3, "helper")

	f.router.HandleUpdate(context.Background(), testToken, voiceUpdate(10, 500, "missing"))

	if got := lastSent(t, f.out); !strings.Contains(got, "voice message") {
		t.Fatalf("reply = %q", got)
	}
	if len(f.gen.calls) != 0 {
		t.Fatal("generator must not run when download fails")
	}
}
