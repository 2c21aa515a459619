package router

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/oof-baroomf/claude-code-router-responses/internal/config"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

func fullConfig() config.RoutingConfig {
	return config.RoutingConfig{
		Default:     "gpt-4o",
		Background:  "gpt-4o-mini",
		Think:       "o3",
		LongContext: "gpt-4.1",
		WebSearch:   "gpt-4o-search-preview",
	}
}

func TestSelectCascade(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.RoutingConfig
		req    types.TranslatedRequest
		tokens int
		model  string
		route  string
	}{
		{
			name:  "plain request uses default",
			cfg:   fullConfig(),
			req:   types.TranslatedRequest{Model: "claude-sonnet-4"},
			model: "gpt-4o", route: RouteDefault,
		},
		{
			name:   "comma list passes through even over long context",
			cfg:    fullConfig(),
			req:    types.TranslatedRequest{Model: "openrouter,anthropic/claude", Thinking: true},
			tokens: 100000,
			model:  "openrouter,anthropic/claude", route: RouteMultiTarget,
		},
		{
			name:   "long context beats background and think",
			cfg:    fullConfig(),
			req:    types.TranslatedRequest{Model: "claude-3-5-haiku-20241022", Thinking: true},
			tokens: 60001,
			model:  "gpt-4.1", route: RouteLongContext,
		},
		{
			name:   "threshold itself is not long context",
			cfg:    fullConfig(),
			req:    types.TranslatedRequest{Model: "claude-sonnet-4"},
			tokens: 60000,
			model:  "gpt-4o", route: RouteDefault,
		},
		{
			name:   "long context unset falls through",
			cfg:    config.RoutingConfig{Default: "gpt-4o"},
			req:    types.TranslatedRequest{Model: "claude-sonnet-4"},
			tokens: 90000,
			model:  "gpt-4o", route: RouteDefault,
		},
		{
			name:  "haiku prefix selects background",
			cfg:   fullConfig(),
			req:   types.TranslatedRequest{Model: "claude-3-5-haiku-x", Thinking: true},
			model: "gpt-4o-mini", route: RouteBackground,
		},
		{
			name:  "thinking selects think over web search",
			cfg:   fullConfig(),
			req:   types.TranslatedRequest{Model: "claude-opus-4", Thinking: true, DeclaredToolTypes: []string{"web_search_20250305"}},
			model: "o3", route: RouteThink,
		},
		{
			name:  "web search tool selects webSearch",
			cfg:   fullConfig(),
			req:   types.TranslatedRequest{Model: "claude-opus-4", DeclaredToolTypes: []string{"custom", "web_search_20250305"}},
			model: "gpt-4o-search-preview", route: RouteWebSearch,
		},
		{
			name:  "web search prefix must lead",
			cfg:   fullConfig(),
			req:   types.TranslatedRequest{Model: "claude-opus-4", DeclaredToolTypes: []string{"my_web_search"}},
			model: "gpt-4o", route: RouteDefault,
		},
		{
			name:  "empty default keeps requested model",
			cfg:   config.RoutingConfig{},
			req:   types.TranslatedRequest{Model: "claude-opus-4"},
			model: "claude-opus-4", route: RouteDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.cfg).Select(context.Background(), &tt.req, tt.tokens)
			assert.Equal(t, tt.model, d.Model)
			assert.Equal(t, tt.route, d.Route)
		})
	}
}

// The haiku scenario: background route wins for a lightweight request.
func TestSelectBackgroundScenario(t *testing.T) {
	r := New(config.RoutingConfig{Default: "gpt-4o", Background: "gpt-4o-mini"})
	req := &types.TranslatedRequest{Model: "claude-3-5-haiku-x", Stream: true}
	assert.Equal(t, "gpt-4o-mini", r.Select(context.Background(), req, 1).Model)
}

func TestSelectStrategy(t *testing.T) {
	req := &types.TranslatedRequest{Model: "claude-sonnet-4"}

	t.Run("non-empty answer wins", func(t *testing.T) {
		var gotTokens int
		var gotCfg config.RoutingConfig
		r := New(fullConfig(), WithStrategy(StrategyFunc(func(_ context.Context, _ *types.TranslatedRequest, n int, cfg config.RoutingConfig) (string, error) {
			gotTokens, gotCfg = n, cfg
			return "  custom-model ", nil
		})))
		d := r.Select(context.Background(), req, 42)
		assert.Equal(t, Decision{Model: "custom-model", Route: RouteCustom}, d)
		assert.Equal(t, 42, gotTokens)
		assert.Equal(t, fullConfig(), gotCfg)
	})

	t.Run("empty answer defers", func(t *testing.T) {
		r := New(fullConfig(), WithStrategy(StrategyFunc(func(context.Context, *types.TranslatedRequest, int, config.RoutingConfig) (string, error) {
			return "", nil
		})))
		assert.Equal(t, RouteDefault, r.Select(context.Background(), req, 0).Route)
	})

	t.Run("error falls back", func(t *testing.T) {
		r := New(fullConfig(), WithStrategy(StrategyFunc(func(context.Context, *types.TranslatedRequest, int, config.RoutingConfig) (string, error) {
			return "ignored", errors.New("script failed")
		})))
		assert.Equal(t, Decision{Model: "gpt-4o", Route: RouteDefault}, r.Select(context.Background(), req, 0))
	})

	t.Run("panic falls back", func(t *testing.T) {
		r := New(fullConfig(), WithStrategy(StrategyFunc(func(context.Context, *types.TranslatedRequest, int, config.RoutingConfig) (string, error) {
			panic("boom")
		})))
		assert.NotPanics(t, func() {
			assert.Equal(t, "gpt-4o", r.Select(context.Background(), req, 0).Model)
		})
	})
}

func TestFromConfigWithoutScript(t *testing.T) {
	r := FromConfig(context.Background(), fullConfig())
	assert.Nil(t, r.strategy)
	assert.Equal(t, fullConfig(), r.Config())
}

func TestFromConfigMissingScript(t *testing.T) {
	cfg := fullConfig()
	cfg.CustomRouterPath = "/nonexistent/router.lua"
	r := FromConfig(context.Background(), cfg)
	assert.Nil(t, r.strategy)
}

func TestPropertySelectDeterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)
	r := New(fullConfig())

	models := gen.OneConstOf("claude-sonnet-4", "claude-3-5-haiku-20241022", "a,b", "gpt-4o", "")
	tools := gen.SliceOf(gen.OneConstOf("web_search_20250305", "custom", "bash_20250124", ""))

	properties.Property("same inputs give the same model", prop.ForAll(
		func(model string, tokens int, thinking bool, toolTypes []string) bool {
			req := &types.TranslatedRequest{Model: model, Thinking: thinking, DeclaredToolTypes: toolTypes}
			first := r.Select(context.Background(), req, tokens)
			for i := 0; i < 3; i++ {
				if r.Select(context.Background(), req, tokens) != first {
					return false
				}
			}
			return true
		},
		models, gen.IntRange(0, 200000), gen.Bool(), tools,
	))

	properties.Property("long context outranks think whenever both match", prop.ForAll(
		func(tokens int, toolTypes []string) bool {
			req := &types.TranslatedRequest{Model: "claude-opus-4", Thinking: true, DeclaredToolTypes: toolTypes}
			return r.Select(context.Background(), req, tokens).Route == RouteLongContext
		},
		gen.IntRange(LongContextThreshold+1, 1000000), tools,
	))

	properties.Property("result is always one of the configured slots or the request model", prop.ForAll(
		func(model string, tokens int, thinking bool, toolTypes []string) bool {
			req := &types.TranslatedRequest{Model: model, Thinking: thinking, DeclaredToolTypes: toolTypes}
			got := r.Select(context.Background(), req, tokens).Model
			cfg := fullConfig()
			for _, m := range []string{cfg.Default, cfg.Background, cfg.Think, cfg.LongContext, cfg.WebSearch, model} {
				if got == m {
					return true
				}
			}
			return false
		},
		models, gen.IntRange(0, 200000), gen.Bool(), tools,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
