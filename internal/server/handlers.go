package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/oof-baroomf/claude-code-router-responses/internal/logging"
	"github.com/oof-baroomf/claude-code-router-responses/internal/sse"
	"github.com/oof-baroomf/claude-code-router-responses/internal/stream"
	"github.com/oof-baroomf/claude-code-router-responses/internal/transform"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
	"github.com/oof-baroomf/claude-code-router-responses/internal/upstream"
)

// handleMessages serves POST /v1/messages: translate, route, dispatch, then
// relay the backend stream as SSE or as a single JSON message.
func (s *Server) handleMessages(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	entry := logging.FromContext(ctx)

	req, err := transform.Translate(body, s.cfg.OpenAIModel)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}

	tokenCount := s.estimator.EstimateBody(body)
	decision := s.router.Select(ctx, req, tokenCount)
	routed := req.WithModel(decision.Model)

	ctx, cancel := s.responseContext(ctx)
	defer cancel()

	src, err := s.backend.Stream(ctx, routed)
	if err != nil {
		writeError(c, dispatchStatus(err), err)
		return
	}
	defer src.Close()

	opts := sse.Options{Model: decision.Model, InputTokens: tokenCount}
	if !req.Stream {
		s.respondCollected(ctx, c, src, opts)
		return
	}

	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if err := sse.Transcode(ctx, src, w, opts); err != nil {
		entry.WithError(err).Warn("client stream write failed")
	}
}

func (s *Server) respondCollected(ctx context.Context, c *gin.Context, src stream.Source, opts sse.Options) {
	collector := sse.NewCollector()
	// A collector never fails a write.
	_ = sse.Transcode(ctx, src, collector, opts)

	msg, err := collector.Result()
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(c, status, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// handleCountTokens serves POST /v1/messages/count_tokens.
func (s *Server) handleCountTokens(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		writeError(c, http.StatusBadRequest, transform.ErrInvalidBody)
		return
	}
	c.JSON(http.StatusOK, types.AnthropicCountTokensResponse{InputTokens: s.estimator.EstimateBody(body)})
}

// responseContext bounds one backend response by the configured deadline.
// Client disconnects cancel the parent.
func (s *Server) responseContext(parent context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.APITimeout(); timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

func dispatchStatus(err error) int {
	var upErr *upstream.Error
	switch {
	case errors.As(err, &upErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("failed to read request body"))
		return nil, false
	}
	return body, true
}

// writeError answers with {"error": "<message>"}.
func writeError(c *gin.Context, status int, err error) {
	logging.FromContext(c.Request.Context()).WithFields(log.Fields{
		"status": status,
		"path":   c.Request.URL.Path,
	}).WithError(err).Error("request failed")
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, types.ErrorBody{Error: err.Error()})
}
