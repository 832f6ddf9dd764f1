// Package api is the bot's HTTP surface: the interactions webhook the chat
// platform calls, and the signal endpoints the authorization site and
// gateway listener post presence, authorization and reaction events to.
package api

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/gamesincommon/internal/app"
	"github.com/roach88/gamesincommon/internal/command"
	"github.com/roach88/gamesincommon/internal/engine"
	"github.com/roach88/gamesincommon/internal/lifecycle"
	"github.com/roach88/gamesincommon/internal/signal"
	"github.com/roach88/gamesincommon/internal/store"
)

// Interaction response types.
const (
	ResponsePong    = 1
	ResponseMessage = 4
)

// FlagEphemeral shows a response only to the invoking user.
const FlagEphemeral = 64

// Server handles HTTP requests for one App.
type Server struct {
	app          *app.App
	publicKey    ed25519.PublicKey
	signalSecret string
	insecure     bool
	logger       *slog.Logger
}

// NewServer creates a server. It requires the platform public key unless
// the server is configured insecure.
func NewServer(a *app.App) (*Server, error) {
	s := &Server{
		app:          a,
		signalSecret: a.Config.Server.SignalSecret,
		insecure:     a.Config.Server.Insecure,
		logger:       a.Logger.With("component", "api"),
	}
	k := a.Config.Discord.PublicKey
	if k == "" && !s.insecure {
		return nil, errors.New("platform public key is required unless server.insecure is set")
	}
	if k != "" {
		raw, err := hex.DecodeString(k)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid platform public key")
		}
		s.publicKey = ed25519.PublicKey(raw)
	}
	return s, nil
}

// Routes builds the gin engine.
func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	engine.GET("/healthz", s.handleHealthz)
	engine.POST("/interactions", s.verifySignature(), s.handleInteraction)

	// Signals attach accounts and delete results, so they stay unmounted
	// without a secret.
	if s.signalSecret == "" && !s.insecure {
		s.logger.Warn("no signal secret configured, signal endpoints disabled")
		return engine
	}
	signals := engine.Group("/signals", s.requireSecret())
	signals.POST("/presence", s.handlePresence)
	signals.POST("/authorize", s.handleAuthorize)
	signals.POST("/revoke", s.handleRevoke)
	signals.POST("/reaction", s.handleReaction)

	engine.GET("/sessions/:token", s.requireSecret(), s.handleInspect)
	return engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.app.Config.Server
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInteraction(c *gin.Context) {
	in, err := command.Parse(rawBody(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interaction"})
		return
	}

	switch in.Type {
	case command.TypePing:
		c.JSON(http.StatusOK, gin.H{"type": ResponsePong})
		return
	case command.TypeApplicationCommand:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported interaction type"})
		return
	}

	sess, placeholder, err := s.app.Admit(c.Request.Context(), in)
	var invalid *command.InvalidError
	switch {
	case err == nil:
		s.logger.Info("command admitted", "token", sess.Token, "guild", sess.Guild)
		c.JSON(http.StatusOK, gin.H{"type": ResponseMessage, "data": placeholder})
	case errors.As(err, &invalid):
		c.JSON(http.StatusOK, gin.H{
			"type": ResponseMessage,
			"data": gin.H{"content": invalid.Error(), "flags": FlagEphemeral},
		})
	case errors.Is(err, command.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrDuplicateSession):
		c.JSON(http.StatusConflict, gin.H{"error": "interaction already admitted"})
	default:
		s.logger.Error("admission failed", "interaction", in.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "admission failed"})
	}
}

type presenceRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
}

func (s *Server) handlePresence(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids required"})
		return
	}
	tokens, err := s.app.Signals.Presence(c.Request.Context(), req.UserIDs...)
	if err != nil {
		s.fail(c, "presence", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rerun": nonNil(tokens)})
}

type authorizeRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	AccountID string `json:"account_id"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) handleAuthorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	tokens, err := s.app.Signals.Authorized(c.Request.Context(), signal.Authorization{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		ExpiresIn: time.Duration(req.ExpiresIn) * time.Second,
	})
	if err != nil {
		s.fail(c, "authorize", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rerun": nonNil(tokens)})
}

type revokeRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) handleRevoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if err := s.app.Signals.Revoke(c.Request.Context(), req.UserID); err != nil {
		s.fail(c, "revoke", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type reactionRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	Emoji     string `json:"emoji" binding:"required"`
}

func (s *Server) handleReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id, user_id and emoji required"})
		return
	}
	deleted, err := s.app.Signals.Reaction(c.Request.Context(), req.MessageID, req.UserID, req.Emoji)
	if errors.Is(err, lifecycle.ErrNotInvolved) {
		c.JSON(http.StatusForbidden, gin.H{"error": "user is not part of this request"})
		return
	}
	if err != nil {
		s.fail(c, "reaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) handleInspect(c *gin.Context) {
	snap, err := s.app.Engine.Inspect(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.fail(c, "inspect", err)
		return
	}
	if snap.Session == nil && !snap.Claimed && snap.Delivered == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": store.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	s.logger.Error("signal failed", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

func nonNil(tokens []string) []string {
	if tokens == nil {
		return []string{}
	}
	return tokens
}
