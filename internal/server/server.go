// Package server exposes the council over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/johnayoung/llm-council/internal/config"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/johnayoung/llm-council/internal/provider"
	"github.com/johnayoung/llm-council/internal/storage"
)

// Conversations is the conversation service the handlers drive.
type Conversations interface {
	CreateConversation(ctx context.Context) (storage.Conversation, error)
	ListConversations(ctx context.Context) ([]storage.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	SendMessage(ctx context.Context, id, content string) (*council.Result, error)
	SendMessageStream(ctx context.Context, id, content string) (<-chan council.Event, error)
}

// Server holds the HTTP handlers.
type Server struct {
	conversations Conversations
	settings      *config.Settings
	models        provider.ModelLister
	origins       []string
	logger        *slog.Logger
}

// New creates a server. models enumerates installed backend models for the
// health and config routes.
func New(conversations Conversations, settings *config.Settings, models provider.ModelLister, origins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		conversations: conversations,
		settings:      settings,
		models:        models,
		origins:       origins,
		logger:        logger,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(s.origins) > 0 {
		r.Use(cors.New(corsConfig(s.origins)))
	}

	r.GET("/", s.root)

	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/config", s.getConfig)
		api.POST("/config", s.updateConfig)
		api.GET("/conversations", s.listConversations)
		api.POST("/conversations", s.createConversation)
		api.GET("/conversations/:id", s.getConversation)
		api.POST("/conversations/:id/message", s.sendMessage)
		api.POST("/conversations/:id/message/stream", s.sendMessageStream)
	}
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
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

// corsConfig allows the configured browser origins. "*" allows any origin
// without credentials.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
