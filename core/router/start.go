package router

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/telegram/commands"
	"log/slog"
)

func (r *Router) handleStart(ctx context.Context, botToken string, msg *tele.Message) {
	ctx = logger.WithHandler(ctx, "/start")
	if msg.Sender == nil {
		logger.Warn(ctx, "web", "command.start",
			slog.String("status", "skip"),
			slog.String("cause", "sender missing"),
		)
		return
	}

	user, err := r.directory.FindOrCreateUser(ctx, identityFrom(msg.Sender))
	if err != nil {
		logger.Error(ctx, "web", "command.start",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "An error occurred. Please try again later.")
		return
	}

	first := msg.Sender.FirstName
	if first == "" {
		first = "User"
	}
	welcome := fmt.Sprintf("Hello, %s! Welcome to the bot. You can now use commands like /bots and /setprompt.", first)
	r.send(ctx, botToken, chatID(msg), welcome)
	r.setMenu(ctx, botToken, commands.Standard())

	logger.Info(ctx, "web", "command.start",
		slog.String("status", "ok"),
		slog.Int64("user_id", user.TelegramID),
	)
}
