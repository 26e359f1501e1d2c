package router

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
	"github.com/m3rciful/multibot/core/telegram/commands"
	"log/slog"
)

const setPromptInstructions = "🤖 Please enter your new system prompt for this bot.\n\n" +
	"This will define how the bot behaves and responds to your messages.\n\n" +
	"💡 *Example:* \"You are a helpful coding assistant who explains concepts clearly.\"\n\n" +
	"To cancel, send /cancel"

func (r *Router) handleSetPrompt(ctx context.Context, botToken string, msg *tele.Message) {
	ctx = logger.WithHandler(ctx, "/setprompt")
	if msg.Sender == nil {
		logger.Warn(ctx, "web", "command.setprompt",
			slog.String("status", "skip"),
			slog.String("cause", "sender missing"),
		)
		return
	}

	user, err := r.directory.UserByTelegramID(ctx, msg.Sender.ID)
	if err != nil {
		logger.Error(ctx, "web", "command.setprompt",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "Sorry, an error occurred while processing your request.")
		return
	}
	if user == nil {
		r.send(ctx, botToken, chatID(msg), "I can't find your user profile. Please type /start first.")
		return
	}

	bot, err := r.directory.BotByToken(ctx, botToken)
	if err != nil {
		logger.Error(ctx, "web", "command.setprompt",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "Sorry, an error occurred while processing your request.")
		return
	}
	if bot == nil {
		// Reaching here means a webhook was accepted for an unregistered token.
		logger.Error(ctx, "web", "command.setprompt",
			slog.String("cause", "bot not registered"),
		)
		r.send(ctx, botToken, chatID(msg), "Error: This bot is not registered.")
		return
	}

	if err := r.sessions.SetState(ctx, chatID(msg), session.StateAwaitingPrompt, r.promptTimeout); err != nil {
		logger.Error(ctx, "web", "command.setprompt",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "Sorry, an error occurred while processing your request.")
		return
	}

	r.setMenu(ctx, botToken, commands.Contextual())
	r.send(ctx, botToken, chatID(msg), setPromptInstructions)

	logger.Info(ctx, "web", "command.setprompt",
		slog.String("status", "ok"),
		slog.String("state", string(session.StateAwaitingPrompt)),
		slog.Int64("bot_id", bot.ID),
	)
}
