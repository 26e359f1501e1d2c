package router

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
	"github.com/m3rciful/multibot/core/telegram/commands"
	"log/slog"
)

// handleCancel drives the chat back to idle unconditionally. Cancelling from
// idle is a harmless no-op that still clears any stale expiry.
func (r *Router) handleCancel(ctx context.Context, botToken string, msg *tele.Message) {
	ctx = logger.WithHandler(ctx, "/cancel")

	if err := r.sessions.SetState(ctx, chatID(msg), session.StateIdle, 0); err != nil {
		logger.Error(ctx, "web", "command.cancel",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chatID(msg), "Sorry, an error occurred while cancelling the operation.")
		return
	}

	r.setMenu(ctx, botToken, commands.Standard())
	r.send(ctx, botToken, chatID(msg), "❌ Operation cancelled. You can start a new command anytime.")

	logger.Info(ctx, "web", "command.cancel",
		slog.String("status", "ok"),
		slog.String("state", string(session.StateIdle)),
	)
}
