package botuser

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/multibot/core/config"
	"github.com/m3rciful/multibot/core/database"
	"github.com/m3rciful/multibot/core/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(database.SQLiteSchema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewDirectory(db)
}

func TestFindOrCreateUser(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	identity := TelegramIdentity{
		ID:        42,
		FirstName: "Ada",
		Username:  "ada",
	}
	created, err := dir.FindOrCreateUser(ctx, identity)
	if err != nil {
		t.Fatal(err)
	}
	if created.TelegramID != 42 || created.ID == 0 {
		t.Fatalf("unexpected user %+v", created)
	}

	// Second call resolves the same row instead of inserting.
	again, err := dir.FindOrCreateUser(ctx, identity)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != created.ID {
		t.Fatalf("user duplicated: %d vs %d", again.ID, created.ID)
	}
}

func TestBotByTokenAbsent(t *testing.T) {
	dir := newTestDirectory(t)
	bot, err := dir.BotByToken(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if bot != nil {
		t.Fatalf("expected nil bot, got %+v", bot)
	}
}

func TestPromptRoundTrip(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.SyncBots(ctx, []coreconfig.BotConfig{{Name: "Alpha", Token: "1:A"}}); err != nil {
		t.Fatal(err)
	}
	bot, err := dir.BotByToken(ctx, "1:A")
	if err != nil || bot == nil {
		t.Fatalf("bot lookup failed: %v %v", bot, err)
	}
	user, err := dir.FindOrCreateUser(ctx, TelegramIdentity{ID: 7})
	if err != nil {
		t.Fatal(err)
	}

	// Unset prompt reads as empty.
	prompt, err := dir.Prompt(ctx, user.ID, bot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prompt != "" {
		t.Fatalf("expected empty prompt, got %q", prompt)
	}

	if err := dir.SetPrompt(ctx, user.ID, bot.ID, "Be concise"); err != nil {
		t.Fatal(err)
	}
	prompt, err = dir.Prompt(ctx, user.ID, bot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prompt != "Be concise" {
		t.Fatalf("prompt = %q", prompt)
	}

	// Overwrite goes through the same upsert.
	if err := dir.SetPrompt(ctx, user.ID, bot.ID, "Be verbose"); err != nil {
		t.Fatal(err)
	}
	prompt, _ = dir.Prompt(ctx, user.ID, bot.ID)
	if prompt != "Be verbose" {
		t.Fatalf("prompt = %q after overwrite", prompt)
	}

	rows, err := dir.UserBots(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Prompt.String != "Be verbose" {
		t.Fatalf("user bots = %+v", rows)
	}
}

func TestSyncBotsDeactivatesRemoved(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	first := []coreconfig.BotConfig{
		{Name: "Alpha", Token: "1:A"},
		{Name: "Beta", Token: "2:B"},
	}
	if err := dir.SyncBots(ctx, first); err != nil {
		t.Fatal(err)
	}
	bots, err := dir.ActiveBots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(bots) != 2 {
		t.Fatalf("active = %d, want 2", len(bots))
	}

	// Beta drops out of configuration; it stays in the table but inactive.
	if err := dir.SyncBots(ctx, first[:1]); err != nil {
		t.Fatal(err)
	}
	bots, err = dir.ActiveBots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(bots) != 1 || bots[0].Token != "1:A" {
		t.Fatalf("active after resync = %+v", bots)
	}

	removed, err := dir.BotByToken(ctx, "2:B")
	if err != nil {
		t.Fatal(err)
	}
	if removed == nil || removed.IsActive {
		t.Fatalf("removed bot should persist as inactive, got %+v", removed)
	}
}
