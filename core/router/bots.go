package router

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/botuser"
	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

func (r *Router) handleBots(ctx context.Context, botToken string, msg *tele.Message) {
	ctx = logger.WithHandler(ctx, "/bots")
	if msg.Sender == nil {
		logger.Warn(ctx, "web", "command.bots",
			slog.String("status", "skip"),
			slog.String("cause", "sender missing"),
		)
		return
	}

	user, err := r.directory.UserByTelegramID(ctx, msg.Sender.ID)
	if err != nil {
		logger.Error(ctx, "web", "command.bots",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "Sorry, an error occurred while fetching the bot list.")
		return
	}
	if user == nil {
		r.send(ctx, botToken, chatID(msg), "I can't find your user profile. Please type /start first.")
		return
	}

	allBots, err := r.directory.ActiveBots(ctx)
	if err != nil {
		logger.Error(ctx, "web", "command.bots",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "Sorry, an error occurred while fetching the bot list.")
		return
	}
	if len(allBots) == 0 {
		r.send(ctx, botToken, chatID(msg), "There are no bots available currently.")
		return
	}

	settings, err := r.directory.UserBots(ctx, user.ID)
	if err != nil {
		logger.Error(ctx, "web", "command.bots",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "Sorry, an error occurred while fetching the bot list.")
		return
	}
	prompts := make(map[int64]string, len(settings))
	for _, s := range settings {
		prompts[s.BotID] = s.Prompt.String
	}

	r.send(ctx, botToken, chatID(msg), renderBotList(allBots, prompts))
	logger.Info(ctx, "web", "command.bots",
		slog.String("status", "ok"),
		slog.Int("count", len(allBots)),
	)
}

// renderBotList builds the markdown bot overview: configured bots with their
// custom prompts first, then bots still on the default prompt.
func renderBotList(all []botuser.Bot, prompts map[int64]string) string {
	var configured, available []botuser.Bot
	for _, b := range all {
		if _, ok := prompts[b.ID]; ok {
			configured = append(configured, b)
		} else {
			available = append(available, b)
		}
	}

	var sb strings.Builder
	sb.WriteString("🤖 **Your Bots**\n\n")

	if len(configured) > 0 {
		sb.WriteString("**✅ Configured Bots:**\n")
		for _, b := range configured {
			sb.WriteString(fmt.Sprintf("🤖 %s\n", botLink(b)))
			sb.WriteString(fmt.Sprintf("   *Prompt:* `%s`\n\n", prompts[b.ID]))
		}
	}
	if len(available) > 0 {
		sb.WriteString("**📋 Available Bots:**\n")
		for _, b := range available {
			sb.WriteString(fmt.Sprintf("🤖 %s\n", botLink(b)))
			sb.WriteString("   *Status:* Using default prompt\n\n")
		}
	}

	sb.WriteString("💡 *Tip:* Use `/setprompt` to customize any bot's behavior!")
	return sb.String()
}

func botLink(b botuser.Bot) string {
	name := b.Name.String
	if name == "" {
		name = fmt.Sprintf("Bot ID %d", b.ID)
	}
	if b.Username.Valid && b.Username.String != "" {
		return fmt.Sprintf("[%s](https://t.me/%s)", name, b.Username.String)
	}
	return name
}
