// Package server exposes the Messages API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oof-baroomf/claude-code-router-responses/internal/config"
	"github.com/oof-baroomf/claude-code-router-responses/internal/logging"
	"github.com/oof-baroomf/claude-code-router-responses/internal/router"
	"github.com/oof-baroomf/claude-code-router-responses/internal/stream"
	"github.com/oof-baroomf/claude-code-router-responses/internal/tokens"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 32 << 20

// Backend opens a backend event stream for a routed request.
type Backend interface {
	Stream(ctx context.Context, req *types.TranslatedRequest) (stream.Source, error)
}

// Server is the gateway's HTTP front end.
type Server struct {
	cfg        *config.Config
	estimator  *tokens.Estimator
	router     *router.Router
	backend    Backend
	engine     *gin.Engine
	httpServer *http.Server
}

// New wires the routes. The router, estimator and backend are shared by all
// requests and must be safe for concurrent use.
func New(cfg *config.Config, rt *router.Router, est *tokens.Estimator, backend Backend) *Server {
	s := &Server{
		cfg:       cfg,
		estimator: est,
		router:    rt,
		backend:   backend,
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery(), corsMiddleware())

	engine.GET("/", s.handleHealth)
	engine.GET("/health", s.handleHealth)
	engine.POST("/v1/messages", s.handleMessages)
	engine.POST("/v1/messages/count_tokens", s.handleCountTokens)
	s.engine = engine

	s.httpServer = &http.Server{
		Addr:        cfg.Addr(),
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	if timeout := cfg.APITimeout(); timeout > 0 {
		s.httpServer.WriteTimeout = timeout + 30*time.Second
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
