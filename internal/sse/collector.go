package sse

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

// ErrIncomplete is returned by Collector.Result when the backend stream ended
// before a completion event.
var ErrIncomplete = errors.New("backend stream ended before completion")

// StreamError is a failure reported through an error frame.
type StreamError struct {
	Type    string
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// Collector is a Sink that assembles the client event sequence into a single
// Messages API response for non-streaming callers.
type Collector struct {
	resp     types.AnthropicMessageResponse
	text     strings.Builder
	hasText  bool
	finished bool
	err      *StreamError
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit implements Sink.
func (c *Collector) Emit(event string, data []byte) error {
	p := gjson.ParseBytes(data)
	switch event {
	case EventMessageStart:
		m := p.Get("message")
		c.resp.ID = m.Get("id").String()
		c.resp.Type = m.Get("type").String()
		c.resp.Role = m.Get("role").String()
		c.resp.Model = m.Get("model").String()
		c.resp.Usage.InputTokens = m.Get("usage.input_tokens").Int()
		c.resp.Usage.OutputTokens = m.Get("usage.output_tokens").Int()
	case EventContentBlockStart:
		c.hasText = true
	case EventContentBlockDelta:
		c.text.WriteString(p.Get("delta.text").String())
	case EventMessageDelta:
		c.finished = true
		reason := p.Get("delta.stop_reason").String()
		c.resp.StopReason = &reason
		if v := p.Get("usage.input_tokens"); v.Exists() {
			c.resp.Usage.InputTokens = v.Int()
		}
		if v := p.Get("usage.output_tokens"); v.Exists() {
			c.resp.Usage.OutputTokens = v.Int()
		}
	case EventError:
		if c.err == nil {
			c.err = &StreamError{Type: p.Get("error.type").String(), Message: p.Get("error.message").String()}
		}
	}
	return nil
}

// Result returns the assembled message. A reported stream error takes
// precedence over a completed message.
func (c *Collector) Result() (*types.AnthropicMessageResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	if !c.finished {
		return nil, ErrIncomplete
	}
	out := c.resp
	out.Content = []types.AnthropicContentOut{}
	if c.hasText {
		out.Content = append(out.Content, types.AnthropicContentOut{Type: "text", Text: c.text.String()})
	}
	return &out, nil
}
