package router

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

// handleVoice downloads the voice note, transcribes it, and feeds the
// transcript into the freeform text path. Transcripts never dispatch as
// commands, even when the first word matches one.
func (r *Router) handleVoice(ctx context.Context, botToken string, msg *tele.Message) {
	ctx = logger.WithHandler(ctx, "voice")
	chat := chatID(msg)

	if r.asr == nil {
		logger.Warn(ctx, "web", "message.voice",
			slog.String("status", "skip"),
			slog.String("cause", "no transcriber configured"),
		)
		r.send(ctx, botToken, chat, "Sorry, voice messages are not supported right now.")
		return
	}

	audio, err := r.client.DownloadVoice(ctx, botToken, msg.Voice.FileID)
	if err != nil {
		logger.Error(ctx, "web", "voice.download",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chat, "Sorry, I couldn't process your voice message.")
		return
	}

	text, err := r.asr.Transcribe(ctx, audio, r.asrLanguage)
	if err != nil {
		logger.Error(ctx, "web", "voice.transcribe",
			slog.String("err", err.Error()),
		)
		r.send(ctx, botToken, chat, "Sorry, I couldn't process your voice message.")
		return
	}
	if text == "" {
		r.send(ctx, botToken, chat, "Sorry, I couldn't make out any speech in that voice message.")
		return
	}

	logger.Info(ctx, "web", "voice.transcribed",
		slog.String("status", "ok"),
		slog.Int("bytes", len(audio)),
		slog.Int("chars", len(text)),
	)

	r.handleText(ctx, botToken, msg, text)
}
