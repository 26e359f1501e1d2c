package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/multibot/core/config"
	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

// secretHeader is the header Telegram echoes back when a secret token was
// supplied on setWebhook.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler consumes one decoded update for the bot the webhook path
// addresses. Implementations must not retain the update past the call.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, botToken string, u *tele.Update)
}

// TokenValidator reports whether a webhook path token belongs to a
// registered bot. A nil validator accepts every token.
type TokenValidator interface {
	KnownToken(ctx context.Context, token string) (bool, error)
}

// Server owns the inbound HTTP surface: the per-bot webhook route plus a
// health endpoint.
type Server struct {
	engine *gin.Engine
	srv    *http.Server

	handler UpdateHandler
	tokens  TokenValidator
	secret  string
}

// New wires the gin engine and routes. The handler is invoked synchronously
// per request so Telegram's retry semantics apply to real failures only.
func New(cfg coreconfig.ServerConfig, secret string, handler UpdateHandler, tokens TokenValidator) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestID(), requestLog(), recovery())

	s := &Server{
		engine:  engine,
		handler: handler,
		tokens:  tokens,
		secret:  secret,
	}

	engine.GET("/healthz", s.health)
	engine.POST("/api/telegram/webhook/:botToken", s.receive)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Listen, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Engine exposes the underlying router for tests.
func (s *Server) Engine() http.Handler { return s.engine }

// Run blocks serving requests until ctx is cancelled, then drains with a
// short shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "web", "server.shutdown",
				slog.String("err", err.Error()),
			)
		}
	}()

	logger.Info(ctx, "web", "server.listen",
		slog.String("addr", s.srv.Addr),
	)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// receive authenticates and decodes one Telegram update. Requests that can
// never succeed are rejected before the body is decoded; updates the router
// merely ignores still answer 200 so Telegram does not retry them.
func (s *Server) receive(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Param("botToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bot token required"})
		return
	}

	if s.secret != "" && c.GetHeader(secretHeader) != s.secret {
		logger.Warn(ctx, "web", "webhook.reject",
			slog.String("cause", "secret token mismatch"),
			slog.String("bot", logger.RedactToken(token)),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if s.tokens != nil {
		known, err := s.tokens.KnownToken(ctx, token)
		if err != nil {
			logger.Error(ctx, "web", "webhook.lookup",
				slog.String("err", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		if !known {
			logger.Warn(ctx, "web", "webhook.reject",
				slog.String("cause", "unknown bot token"),
				slog.String("bot", logger.RedactToken(token)),
			)
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown bot"})
			return
		}
	}

	var update tele.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Warn(ctx, "web", "webhook.reject",
			slog.String("cause", "malformed update body"),
			slog.String("err", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}

	s.handler.HandleUpdate(ctx, token, &update)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
