// Package router picks the backend model for a translated request.
package router

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/oof-baroomf/claude-code-router-responses/internal/config"
	"github.com/oof-baroomf/claude-code-router-responses/internal/logging"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

const (
	// LongContextThreshold is the token count above which the long-context
	// model is preferred.
	LongContextThreshold = 60000
	// BackgroundModelPrefix marks lightweight requests sent by the client
	// for housekeeping work.
	BackgroundModelPrefix = "claude-3-5-haiku"
	// WebSearchToolPrefix marks a declared server-side web search tool.
	WebSearchToolPrefix = "web_search"
)

// Route names reported in decisions and logs.
const (
	RouteCustom      = "custom"
	RouteMultiTarget = "multi-target"
	RouteLongContext = "longContext"
	RouteBackground  = "background"
	RouteThink       = "think"
	RouteWebSearch   = "webSearch"
	RouteDefault     = "default"
)

// Strategy is a pluggable routing extension consulted before the built-in
// cascade. Returning "" with a nil error defers to the cascade.
type Strategy interface {
	Route(ctx context.Context, req *types.TranslatedRequest, tokenCount int, cfg config.RoutingConfig) (string, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, req *types.TranslatedRequest, tokenCount int, cfg config.RoutingConfig) (string, error)

// Route calls f.
func (f StrategyFunc) Route(ctx context.Context, req *types.TranslatedRequest, tokenCount int, cfg config.RoutingConfig) (string, error) {
	return f(ctx, req, tokenCount, cfg)
}

// Decision is the outcome of Select.
type Decision struct {
	Model string
	Route string
}

// Router applies the routing cascade. It holds no mutable state and may be
// shared by concurrent requests.
type Router struct {
	cfg      config.RoutingConfig
	strategy Strategy
}

// Option configures a Router.
type Option func(*Router)

// WithStrategy installs a custom routing extension.
func WithStrategy(s Strategy) Option {
	return func(r *Router) { r.strategy = s }
}

// New returns a Router over cfg.
func New(cfg config.RoutingConfig, opts ...Option) *Router {
	r := &Router{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the routing configuration.
func (r *Router) Config() config.RoutingConfig {
	return r.cfg
}

// Select returns the model for req. It never fails: extension errors are
// logged and the cascade continues.
func (r *Router) Select(ctx context.Context, req *types.TranslatedRequest, tokenCount int) Decision {
	entry := logging.FromContext(ctx).WithField("token_count", tokenCount)

	if r.strategy != nil {
		model, err := r.callStrategy(ctx, req, tokenCount)
		switch {
		case err != nil:
			entry.WithError(err).Warn("custom router failed, using built-in routes")
		case model != "":
			entry.WithField("model", model).Info("using custom router model")
			return Decision{Model: model, Route: RouteCustom}
		}
	}

	d := r.cascade(req, tokenCount)
	entry.WithFields(log.Fields{"model": d.Model, "route": d.Route}).Info("model routed")
	return d
}

func (r *Router) cascade(req *types.TranslatedRequest, tokenCount int) Decision {
	requested := req.Model
	switch {
	case strings.Contains(requested, ","):
		return Decision{Model: requested, Route: RouteMultiTarget}
	case tokenCount > LongContextThreshold && r.cfg.LongContext != "":
		return Decision{Model: r.cfg.LongContext, Route: RouteLongContext}
	case strings.HasPrefix(requested, BackgroundModelPrefix) && r.cfg.Background != "":
		return Decision{Model: r.cfg.Background, Route: RouteBackground}
	case req.Thinking && r.cfg.Think != "":
		return Decision{Model: r.cfg.Think, Route: RouteThink}
	case hasWebSearchTool(req.DeclaredToolTypes) && r.cfg.WebSearch != "":
		return Decision{Model: r.cfg.WebSearch, Route: RouteWebSearch}
	}
	if r.cfg.Default == "" {
		return Decision{Model: requested, Route: RouteDefault}
	}
	return Decision{Model: r.cfg.Default, Route: RouteDefault}
}

func (r *Router) callStrategy(ctx context.Context, req *types.TranslatedRequest, tokenCount int) (model string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("router: custom strategy panicked: %v", p)
		}
	}()
	model, err = r.strategy.Route(ctx, req, tokenCount, r.cfg)
	return strings.TrimSpace(model), err
}

func hasWebSearchTool(toolTypes []string) bool {
	for _, t := range toolTypes {
		if strings.HasPrefix(t, WebSearchToolPrefix) {
			return true
		}
	}
	return false
}

// FromConfig builds a Router for cfg. When customRouterPath is set the Lua
// script there becomes the routing extension and is reloaded on change until
// ctx is done. A script that cannot be loaded is logged and skipped.
func FromConfig(ctx context.Context, cfg config.RoutingConfig) *Router {
	if cfg.CustomRouterPath == "" {
		return New(cfg)
	}
	s, err := NewLuaStrategy(cfg.CustomRouterPath)
	if err != nil {
		log.WithError(err).Warn("custom router disabled")
		return New(cfg)
	}
	if err := s.Watch(ctx); err != nil {
		log.WithError(err).Warn("custom router will not hot-reload")
	}
	log.WithField("path", s.Path()).Info("custom router loaded")
	return New(cfg, WithStrategy(s))
}
