package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/oof-baroomf/claude-code-router-responses/internal/config"
	"github.com/oof-baroomf/claude-code-router-responses/internal/router"
	"github.com/oof-baroomf/claude-code-router-responses/internal/stream"
	"github.com/oof-baroomf/claude-code-router-responses/internal/tokens"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
	"github.com/oof-baroomf/claude-code-router-responses/internal/upstream"
)

type fakeBackend struct {
	events []stream.Event
	err    error

	got         *types.TranslatedRequest
	hadDeadline bool
	src         *stream.SliceSource
}

func (b *fakeBackend) Stream(ctx context.Context, req *types.TranslatedRequest) (stream.Source, error) {
	b.got = req
	_, b.hadDeadline = ctx.Deadline()
	if b.err != nil {
		return nil, b.err
	}
	b.src = stream.FromEvents(b.events...)
	return b.src, nil
}

func newTestServer(t *testing.T, backend Backend) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.OpenAIModel = "gpt-4o"
	cfg.Router = config.RoutingConfig{Default: "gpt-4o", Background: "gpt-4o-mini"}
	est, err := tokens.NewEstimator()
	require.NoError(t, err)
	return New(cfg, router.New(cfg.Router), est, backend)
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func sseEvents(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	for _, path := range []string{"/", "/health"} {
		rec := do(s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	}
}

func TestMessagesStreamingScenario(t *testing.T) {
	backend := &fakeBackend{events: []stream.Event{
		stream.TextDelta{Text: "Hi"},
		stream.TextDelta{Text: " there"},
		stream.Completed{},
	}}
	s := newTestServer(t, backend)

	rec := do(s, http.MethodPost, "/v1/messages", `{"model":"claude-3-5-haiku-x","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, []string{
		"message_start", "content_block_start", "content_block_delta", "content_block_delta",
		"content_block_stop", "message_delta", "message_stop",
	}, sseEvents(rec.Body.String()))
	assert.Contains(t, rec.Body.String(), `"stop_reason":"end_turn"`)
	assert.Contains(t, rec.Body.String(), `"model":"gpt-4o-mini"`)

	require.NotNil(t, backend.got)
	assert.Equal(t, "gpt-4o-mini", backend.got.Model)
	assert.True(t, backend.got.Stream)
	assert.Equal(t, []types.Tool{{Type: types.ToolTypeWebSearchPreview}}, backend.got.Tools)
	assert.True(t, backend.hadDeadline)
	assert.True(t, backend.src.Closed)
}

func TestMessagesNonStreaming(t *testing.T) {
	backend := &fakeBackend{events: []stream.Event{
		stream.TextDelta{Text: "Hello"},
		stream.Completed{Usage: &stream.Usage{InputTokens: 7, OutputTokens: 2}},
	}}
	s := newTestServer(t, backend)

	rec := do(s, http.MethodPost, "/v1/messages", `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, "message", body.Get("type").String())
	assert.Equal(t, "assistant", body.Get("role").String())
	assert.Equal(t, "gpt-4o", body.Get("model").String())
	assert.Equal(t, "Hello", body.Get("content.0.text").String())
	assert.Equal(t, "end_turn", body.Get("stop_reason").String())
	assert.Equal(t, int64(2), body.Get("usage.output_tokens").Int())
	assert.True(t, backend.src.Closed)
}

func TestMessagesNonStreamingBackendFailure(t *testing.T) {
	s := newTestServer(t, &fakeBackend{events: []stream.Event{stream.Failed{Message: "overloaded"}}})

	rec := do(s, http.MethodPost, "/v1/messages", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"overloaded"}`, rec.Body.String())
}

func TestMessagesInvalidBody(t *testing.T) {
	backend := &fakeBackend{}
	s := newTestServer(t, backend)

	rec := do(s, http.MethodPost, "/v1/messages", `[not an object`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "request body must be a JSON object", gjson.Get(rec.Body.String(), "error").String())
	assert.Nil(t, backend.got)
}

func TestMessagesDispatchErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"backend rejection", &upstream.Error{StatusCode: 400, Message: "Upstream returned HTTP 400 Bad Request: bad model"}, http.StatusBadGateway},
		{"unknown provider", fmt.Errorf("%w %q", upstream.ErrUnknownProvider, "nowhere"), http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeBackend{err: tt.err})
			rec := do(s, http.MethodPost, "/v1/messages", `{"messages":[],"stream":true}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.err.Error(), gjson.Get(rec.Body.String(), "error").String())
			assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
		})
	}
}

func TestMessagesStreamErrorStillTerminates(t *testing.T) {
	backend := &fakeBackend{events: []stream.Event{stream.TextDelta{Text: "a"}, stream.Failed{Message: "boom"}}}
	s := newTestServer(t, backend)

	rec := do(s, http.MethodPost, "/v1/messages", `{"messages":[{"role":"user","content":"x"}],"stream":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"message_start", "content_block_start", "content_block_delta", "error", "message_stop"}, sseEvents(rec.Body.String()))
}

func TestMessagesNoTimeoutConfigured(t *testing.T) {
	backend := &fakeBackend{events: []stream.Event{stream.Completed{}}}
	s := newTestServer(t, backend)
	s.cfg.APITimeoutMS = 0

	rec := do(s, http.MethodPost, "/v1/messages", `{"messages":[]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, backend.hadDeadline)
}

func TestCountTokens(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	rec := do(s, http.MethodPost, "/v1/messages/count_tokens", `{"messages":[{"role":"user","content":"hello world"}],"system":"be brief"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, gjson.Get(rec.Body.String(), "input_tokens").Int(), int64(0))

	rec = do(s, http.MethodPost, "/v1/messages/count_tokens", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	rec := do(s, http.MethodOptions, "/v1/messages", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	rec = do(s, http.MethodGet, "/health", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

type blockingSource struct{ closed chan struct{} }

func (b *blockingSource) Next() (stream.Event, error) {
	<-b.closed
	return nil, errors.New("closed")
}

func (b *blockingSource) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

type cancelAwareBackend struct{ src *blockingSource }

func (b *cancelAwareBackend) Stream(ctx context.Context, _ *types.TranslatedRequest) (stream.Source, error) {
	go func() {
		<-ctx.Done()
		_ = b.src.Close()
	}()
	return b.src, nil
}

func TestMessagesClientDisconnectReleasesBackend(t *testing.T) {
	backend := &cancelAwareBackend{src: &blockingSource{closed: make(chan struct{})}}
	s := newTestServer(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"messages":[],"stream":true}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
	assert.Equal(t, []string{"message_start", "error", "message_stop"}, sseEvents(rec.Body.String()))
}
