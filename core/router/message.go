package router

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/ai"
	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
	"github.com/m3rciful/multibot/core/telegram/commands"
	"log/slog"
)

// handleText runs the freeform path: resolve the awaiting_prompt state if
// any, otherwise build the AI context from the stored prompt plus history,
// generate a reply, send it, and record the turn.
func (r *Router) handleText(ctx context.Context, botToken string, msg *tele.Message, text string) {
	ctx = logger.WithHandler(ctx, "text")
	chat := chatID(msg)

	// Missing sender identity is a hard no-op.
	if msg.Sender == nil || text == "" {
		logger.Warn(ctx, "web", "message.text",
			slog.String("status", "skip"),
			slog.String("cause", "missing user id or text"),
		)
		return
	}

	user, err := r.directory.UserByTelegramID(ctx, msg.Sender.ID)
	if err != nil {
		r.apologize(ctx, botToken, chat, err)
		return
	}
	bot, err := r.directory.BotByToken(ctx, botToken)
	if err != nil {
		r.apologize(ctx, botToken, chat, err)
		return
	}
	if user == nil || bot == nil {
		logger.Error(ctx, "web", "message.text",
			slog.String("cause", "user or bot not found"),
			slog.Bool("found_user", user != nil),
			slog.Bool("found_bot", bot != nil),
		)
		r.send(ctx, botToken, chat, "An error occurred. Please try using the /start command first.")
		return
	}

	sess, err := r.sessions.Get(ctx, chat)
	if err != nil {
		r.apologize(ctx, botToken, chat, err)
		return
	}

	if sess != nil && sess.State == session.StateAwaitingPrompt {
		// Expiry is judged at processing time, not send time.
		if sess.Expired(time.Now()) {
			if err := r.sessions.SetState(ctx, chat, session.StateIdle, 0); err != nil {
				r.apologize(ctx, botToken, chat, err)
				return
			}
			r.setMenu(ctx, botToken, commands.Standard())
			r.send(ctx, botToken, chat, "⏰ Prompt input mode has expired. Processing your message normally.")
			// Fall through: the text is handled as an ordinary message below.
		} else {
			if err := r.directory.SetPrompt(ctx, user.ID, bot.ID, text); err != nil {
				r.apologize(ctx, botToken, chat, err)
				return
			}
			if err := r.sessions.SetState(ctx, chat, session.StateIdle, 0); err != nil {
				r.apologize(ctx, botToken, chat, err)
				return
			}
			r.setMenu(ctx, botToken, commands.Standard())
			r.send(ctx, botToken, chat, "✅ Prompt successfully updated! Your bot will now behave according to your instructions.")
			logger.Info(ctx, "web", "prompt.saved",
				slog.String("status", "ok"),
				slog.Int64("bot_id", bot.ID),
			)
			return
		}
	}

	systemPrompt := DefaultSystemPrompt
	custom, err := r.directory.Prompt(ctx, user.ID, bot.ID)
	if err != nil {
		r.apologize(ctx, botToken, chat, err)
		return
	}
	if custom != "" {
		systemPrompt = custom
	}

	var history []ai.ChatMessage
	if sess != nil {
		history = sess.History
	}

	userMsg := ai.ChatMessage{Role: ai.RoleUser, Content: text}
	msgs := make([]ai.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, ai.ChatMessage{Role: ai.RoleSystem, Content: systemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, userMsg)

	reply, err := r.gen.GenerateText(ctx, msgs, &r.genOpts)
	if err != nil {
		r.apologize(ctx, botToken, chat, err)
		return
	}

	r.send(ctx, botToken, chat, reply)

	assistantMsg := ai.ChatMessage{Role: ai.RoleAssistant, Content: reply}
	if err := r.sessions.AppendHistory(ctx, chat, user.ID, bot.ID, userMsg, assistantMsg); err != nil {
		// The reply is already delivered; losing one history turn is logged,
		// not surfaced to the user.
		logger.Error(ctx, "web", "history.append",
			slog.String("err", err.Error()),
		)
		return
	}

	logger.Info(ctx, "web", "message.text",
		slog.String("status", "ok"),
		slog.Int("messages", len(msgs)),
	)
}

// apologize converts an internal failure into a generic user-facing message;
// no error detail ever crosses to the chat.
func (r *Router) apologize(ctx context.Context, botToken string, chatID int64, err error) {
	logger.Error(ctx, "web", "message.text",
		slog.String("err", err.Error()),
	)
	r.send(ctx, botToken, chatID, "Sorry, I encountered an error while processing your message.")
}
