package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/multibot/core/logger"
	"github.com/m3rciful/multibot/core/session"
	"github.com/m3rciful/multibot/core/telegram/commands"
	"log/slog"
)

// ExpiredNotice is sent to a chat whose awaiting_prompt deadline ran out.
const ExpiredNotice = "⏰ Prompt input mode has expired. Operation cancelled."

// Messenger is the outbound surface the sweeper needs from the Telegram
// client.
type Messenger interface {
	SendText(ctx context.Context, token string, chatID int64, text string) error
	SetMenu(ctx context.Context, token string, commands []tele.Command) error
}

// Sweeper periodically collapses expired awaiting_prompt sessions back to
// idle. It owns its timer: Start is idempotent and Stop guarantees no sweep
// fires after it returns.
type Sweeper struct {
	store    session.Store
	client   Messenger
	interval time.Duration

	running atomic.Bool
	cron    *cron.Cron
}

// New builds a sweeper over the session store and outbound messenger.
func New(store session.Store, client Messenger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		store:    store,
		client:   client,
		interval: interval,
	}
}

// Start schedules the periodic sweep. Calling Start on a running sweeper is
// a no-op, not a second timer.
func (s *Sweeper) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		logger.SWEEP.Warn("already running, skipping start",
			slog.String("event", "start"),
			slog.String("status", "skip"),
		)
		return nil
	}

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.RunOnce(context.Background())
	}); err != nil {
		s.running.Store(false)
		return fmt.Errorf("sweeper: schedule: %w", err)
	}
	s.cron.Start()

	logger.SWEEP.Info("started",
		slog.String("event", "start"),
		slog.Duration("duration", s.interval),
	)
	return nil
}

// Stop halts the timer and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	<-s.cron.Stop().Done()
	logger.SWEEP.Info("stopped",
		slog.String("event", "stop"),
	)
}

// RunOnce performs a single scan-and-reset cycle. Every expired chat is
// handled independently; one chat's failure never blocks the rest.
func (s *Sweeper) RunOnce(ctx context.Context) {
	sweepID := uuid.NewString()
	ctx = logger.WithSweepID(ctx, sweepID)

	expired, err := s.store.ListExpired(ctx, time.Now())
	if err != nil {
		logger.Error(ctx, "sweep", "scan",
			slog.String("err", err.Error()),
		)
		return
	}
	if len(expired) == 0 {
		logger.Debug(ctx, "sweep", "scan",
			slog.Int("expired_count", 0),
		)
		return
	}

	logger.Info(ctx, "sweep", "scan",
		slog.Int("expired_count", len(expired)),
	)

	for _, sess := range expired {
		s.expireOne(ctx, sess)
	}
}

func (s *Sweeper) expireOne(ctx context.Context, sess session.ExpiredSession) {
	if err := s.client.SendText(ctx, sess.BotToken, sess.ChatID, ExpiredNotice); err != nil {
		logger.Error(ctx, "sweep", "notify",
			slog.Int64("chat_id", sess.ChatID),
			slog.String("err", err.Error()),
		)
		// Fall through: the state reset must not depend on delivery.
	}

	if err := s.store.SetState(ctx, sess.ChatID, session.StateIdle, 0); err != nil {
		logger.Error(ctx, "sweep", "reset",
			slog.Int64("chat_id", sess.ChatID),
			slog.String("err", err.Error()),
		)
		return
	}

	if err := s.client.SetMenu(ctx, sess.BotToken, commands.Standard()); err != nil {
		logger.Error(ctx, "sweep", "menu.restore",
			slog.Int64("chat_id", sess.ChatID),
			slog.String("err", err.Error()),
		)
	}

	logger.Info(ctx, "sweep", "expired",
		slog.Int64("chat_id", sess.ChatID),
		slog.String("status", "ok"),
	)
}
