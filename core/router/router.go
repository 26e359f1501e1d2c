package router

import (
	"context"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/ai"
	"github.com/m3rciful/multibot/core/botuser"
	coreconfig "github.com/m3rciful/multibot/core/config"
	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
	"log/slog"
)

// DefaultSystemPrompt is used when the (user, bot) pair has no custom prompt.
const DefaultSystemPrompt = "You are a helpful assistant."

// Sessions is the slice of the session store the router mutates.
type Sessions interface {
	Get(ctx context.Context, chatID int64) (*session.ChatSession, error)
	SetState(ctx context.Context, chatID int64, st session.State, expiresIn time.Duration) error
	AppendHistory(ctx context.Context, chatID, userID, botID int64, userMsg, assistantMsg ai.ChatMessage) error
}

// Directory resolves users, bots, and per-pair prompts.
type Directory interface {
	BotByToken(ctx context.Context, token string) (*botuser.Bot, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (*botuser.User, error)
	FindOrCreateUser(ctx context.Context, identity botuser.TelegramIdentity) (*botuser.User, error)
	SetPrompt(ctx context.Context, userID, botID int64, prompt string) error
	Prompt(ctx context.Context, userID, botID int64) (string, error)
	ActiveBots(ctx context.Context) ([]botuser.Bot, error)
	UserBots(ctx context.Context, userID int64) ([]botuser.UserBot, error)
}

// Outbound is the slice of the Telegram client the router drives.
type Outbound interface {
	SendText(ctx context.Context, token string, chatID int64, text string) error
	SetMenu(ctx context.Context, token string, commands []tele.Command) error
	DownloadVoice(ctx context.Context, token, fileID string) ([]byte, error)
}

// Generator produces assistant replies.
type Generator interface {
	GenerateText(ctx context.Context, messages []ai.ChatMessage, opts *ai.GenerationOptions) (string, error)
}

// Transcriber converts voice audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Router demultiplexes inbound updates into command handlers and the
// freeform message path. It holds no mutable state of its own; every
// decision is a function of stored session state plus the update.
type Router struct {
	sessions  Sessions
	directory Directory
	client    Outbound
	gen       Generator
	asr       Transcriber

	promptTimeout time.Duration
	genOpts       ai.GenerationOptions
	asrLanguage   string
}

// Options bundle the router's collaborators and tuning.
type Options struct {
	Sessions  Sessions
	Directory Directory
	Client    Outbound
	Generator Generator
	ASR       Transcriber
	Session   coreconfig.SessionConfig
	AI        coreconfig.AIConfig
	ASRConf   coreconfig.ASRConfig
}

// New builds the router. A zero prompt timeout falls back to five minutes.
func New(opts Options) *Router {
	timeout := time.Duration(opts.Session.PromptTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Router{
		sessions:      opts.Sessions,
		directory:     opts.Directory,
		client:        opts.Client,
		gen:           opts.Generator,
		asr:           opts.ASR,
		promptTimeout: timeout,
		genOpts: ai.GenerationOptions{
			Model:       opts.AI.Model,
			Temperature: opts.AI.Temperature,
		},
		asrLanguage: opts.ASRConf.Language,
	}
}

// HandleUpdate routes one decoded webhook update. First matching command
// prefix wins; everything else is freeform or voice.
func (r *Router) HandleUpdate(ctx context.Context, botToken string, u *tele.Update) {
	if u == nil || u.Message == nil {
		logger.Warn(ctx, "web", "update.skip",
			slog.String("status", "skip"),
			slog.String("cause", "no message body"),
		)
		return
	}
	msg := u.Message
	ctx = logger.WithUpdateMeta(ctx, u.ID, senderID(msg), chatID(msg))

	switch {
	case msg.Text != "":
		r.routeText(ctx, botToken, msg)
	case msg.Voice != nil:
		r.handleVoice(ctx, botToken, msg)
	default:
		logger.Info(ctx, "web", "update.skip",
			slog.String("status", "skip"),
			slog.String("cause", "no text or voice"),
		)
	}
}

func (r *Router) routeText(ctx context.Context, botToken string, msg *tele.Message) {
	text := msg.Text
	switch {
	case strings.HasPrefix(text, "/start"):
		r.handleStart(ctx, botToken, msg)
	case strings.HasPrefix(text, "/setprompt"):
		r.handleSetPrompt(ctx, botToken, msg)
	case strings.HasPrefix(text, "/bots"):
		r.handleBots(ctx, botToken, msg)
	case strings.HasPrefix(text, "/cancel"):
		r.handleCancel(ctx, botToken, msg)
	default:
		r.handleText(ctx, botToken, msg, text)
	}
}

// send delivers a user-facing message, logging failures without raising:
// outbound delivery is fire-and-forget at the handler boundary.
func (r *Router) send(ctx context.Context, token string, chatID int64, text string) {
	if err := r.client.SendText(ctx, token, chatID, text); err != nil {
		logger.Error(ctx, "web", "reply.send",
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
	}
}

func (r *Router) setMenu(ctx context.Context, token string, commands []tele.Command) {
	if err := r.client.SetMenu(ctx, token, commands); err != nil {
		logger.Error(ctx, "web", "menu.set",
			slog.String("err", err.Error()),
		)
	}
}

func senderID(msg *tele.Message) int64 {
	if msg.Sender == nil {
		return 0
	}
	return msg.Sender.ID
}

func chatID(msg *tele.Message) int64 {
	if msg.Chat == nil {
		return 0
	}
	return msg.Chat.ID
}

func identityFrom(u *tele.User) botuser.TelegramIdentity {
	return botuser.TelegramIdentity{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
		IsBot:        u.IsBot,
	}
}
