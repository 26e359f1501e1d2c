package telegram

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	coreconfig "github.com/m3rciful/multibot/core/config"
	"github.com/m3rciful/multibot/core/logger"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// Client multiplexes outbound Bot API calls across every managed bot. One
// underlying tele.Bot is built lazily per token and reused; all bots share
// a single retrying HTTP client.
type Client struct {
	apiURL    string
	secret    string
	publicURL string
	offline   bool

	mu   sync.RWMutex
	bots map[string]*tele.Bot
}

// NewClient builds the outbound client from the shared Telegram settings.
func NewClient(cfg coreconfig.TelegramConfig) *Client {
	return &Client{
		apiURL:    cfg.APIURL,
		secret:    cfg.SecretToken,
		publicURL: cfg.PublicURL,
		bots:      make(map[string]*tele.Bot),
	}
}

// SetOffline disables the getMe probe on bot construction; used in tests.
func (c *Client) SetOffline(offline bool) {
	c.offline = offline
}

func (c *Client) bot(token string) (*tele.Bot, error) {
	c.mu.RLock()
	b, ok := c.bots[token]
	c.mu.RUnlock()
	if ok {
		return b, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bots[token]; ok {
		return b, nil
	}

	start := time.Now()
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     c.apiURL,
		Client:  BuildHTTPClient(),
		Offline: c.offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot init failed for %s: %w", logger.RedactToken(token), err)
	}
	c.bots[token] = b

	logger.TG.Debug("bot client built",
		slog.String("event", "client.init"),
		slog.String("username", b.Me.Username),
		slog.Duration("duration", logger.Took(start)),
	)
	return b, nil
}

// SendText delivers a plain-text message to a chat through the given bot.
func (c *Client) SendText(ctx context.Context, token string, chatID int64, text string) error {
	b, err := c.bot(token)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = b.Send(tele.ChatID(chatID), text)
	if err != nil {
		logger.Error(ctx, "tg", "send.text",
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("telegram: send: %w", err)
	}
	logger.Debug(ctx, "tg", "send.text",
		slog.Int64("chat_id", chatID),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// SetMenu replaces the bot's global command menu.
func (c *Client) SetMenu(ctx context.Context, token string, commands []tele.Command) error {
	b, err := c.bot(token)
	if err != nil {
		return err
	}
	if err := b.SetCommands(commands); err != nil {
		logger.Error(ctx, "tg", "menu.set",
			slog.Int("count", len(commands)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("telegram: set commands: %w", err)
	}
	logger.Debug(ctx, "tg", "menu.set",
		slog.Int("count", len(commands)),
	)
	return nil
}

// DownloadVoice fetches a voice note's bytes by Telegram file id.
func (c *Client) DownloadVoice(ctx context.Context, token, fileID string) ([]byte, error) {
	b, err := c.bot(token)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	file, err := b.FileByID(fileID)
	if err != nil {
		return nil, fmt.Errorf("telegram: resolve file: %w", err)
	}
	rc, err := b.File(&file)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("telegram: read file: %w", err)
	}
	logger.Debug(ctx, "tg", "file.download",
		slog.Int("payload", len(data)),
		slog.Duration("duration", logger.Took(start)),
	)
	return data, nil
}

// SyncWebhooks registers the webhook endpoint for every token against the
// public base URL, carrying the shared secret when configured.
func (c *Client) SyncWebhooks(ctx context.Context, tokens []string) error {
	if c.publicURL == "" {
		return fmt.Errorf("telegram: public url is required for webhook sync")
	}
	for _, token := range tokens {
		b, err := c.bot(token)
		if err != nil {
			return err
		}
		params := map[string]string{
			"url": fmt.Sprintf("%s/api/telegram/webhook/%s", c.publicURL, token),
		}
		if c.secret != "" {
			params["secret_token"] = c.secret
		}
		if _, err := b.Raw("setWebhook", params); err != nil {
			logger.TG.Error("webhook registration failed",
				slog.String("event", "webhook.sync"),
				slog.String("username", b.Me.Username),
				slog.String("err", err.Error()),
			)
			return fmt.Errorf("telegram: set webhook for %s: %w", logger.RedactToken(token), err)
		}
		logger.TG.Info("webhook registered",
			slog.String("event", "webhook.sync"),
			slog.String("username", b.Me.Username),
		)
	}
	return nil
}
