// Package upstream dispatches translated requests to Responses API backends.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/oof-baroomf/claude-code-router-responses/internal/codec"
	"github.com/oof-baroomf/claude-code-router-responses/internal/config"
	"github.com/oof-baroomf/claude-code-router-responses/internal/logging"
	"github.com/oof-baroomf/claude-code-router-responses/internal/stream"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

// ErrUnknownProvider is returned when a routed model names a provider that
// is not configured.
var ErrUnknownProvider = errors.New("upstream: unknown provider")

// Error is a backend rejection or transport failure before any event arrived.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

type provider struct {
	name   string
	client openai.Client
	models []string
}

// Client makes streaming Responses API calls. The default provider serves
// plain model names; "provider,model" selects a configured provider.
type Client struct {
	def       provider
	providers map[string]provider
}

// NewClient builds a Client for cfg. Extra options apply to every provider.
func NewClient(cfg *config.Config, opts ...option.RequestOption) *Client {
	c := &Client{providers: make(map[string]provider, len(cfg.Providers))}
	c.def = provider{name: "default", client: newSDKClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, opts)}
	for _, p := range cfg.Providers {
		c.providers[p.Name] = provider{
			name:   p.Name,
			client: newSDKClient(p.APIBaseURL, p.APIKey, opts),
			models: p.Models,
		}
	}
	return c
}

func newSDKClient(baseURL, apiKey string, extra []option.RequestOption) openai.Client {
	// Backend calls are never retried.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return openai.NewClient(append(opts, extra...)...)
}

// resolve splits a routed model name into the provider and the model it
// should be asked for.
func (c *Client) resolve(routed string) (provider, string, error) {
	name, model, ok := strings.Cut(routed, ",")
	if !ok {
		return c.def, routed, nil
	}
	name, model = strings.TrimSpace(name), strings.TrimSpace(model)
	p, found := c.providers[name]
	if !found {
		return provider{}, "", fmt.Errorf("%w %q in model %q", ErrUnknownProvider, name, routed)
	}
	return p, model, nil
}

// Stream submits req and waits for the first backend event. Failures before
// that event are returned as *Error, so callers can still answer with a
// plain HTTP error. The returned Source must be closed.
func (c *Client) Stream(ctx context.Context, req *types.TranslatedRequest) (stream.Source, error) {
	p, model, err := c.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	entry := logging.FromContext(ctx).WithField("provider", p.name).WithField("model", model)
	if len(p.models) > 0 && !slices.Contains(p.models, model) {
		entry.Warn("model not listed for provider")
	}

	params := newParams(req, model)
	entry.WithField("input_items", len(req.Input)).Debug("dispatching backend request")

	src := &sdkSource{s: p.client.Responses.NewStreaming(ctx, params)}
	first, err := src.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = src.Close()
		return nil, err
	}
	src.pending = first
	return src, nil
}

// eventStream is the part of the SDK stream the gateway uses.
type eventStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
	Close() error
}

// sdkSource adapts an SDK stream to stream.Source.
type sdkSource struct {
	s       eventStream
	pending stream.Event
	done    bool
}

func (s *sdkSource) Next() (stream.Event, error) {
	if s.pending != nil {
		evt := s.pending
		s.pending = nil
		return evt, nil
	}
	if s.done {
		return nil, io.EOF
	}
	if !s.s.Next() {
		s.done = true
		if err := s.s.Err(); err != nil {
			return nil, describe(err)
		}
		return nil, io.EOF
	}
	cur := s.s.Current()
	return stream.Decode(cur.Type, cur.RawJSON()), nil
}

func (s *sdkSource) Close() error {
	return s.s.Close()
}

// describe turns SDK errors into *Error carrying the backend's message.
func describe(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{
			StatusCode: apiErr.StatusCode,
			Message:    codec.FormatUpstreamError(apiErr.StatusCode, []byte(apiErr.RawJSON())),
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Message: fmt.Sprintf("backend request failed: %v", err)}
}
