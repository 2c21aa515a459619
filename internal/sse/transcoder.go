package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/oof-baroomf/claude-code-router-responses/internal/logging"
	"github.com/oof-baroomf/claude-code-router-responses/internal/stream"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

// Client event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// placeholderTokens fills usage counters the backend has not reported.
const placeholderTokens = 1

// Options describes the response being transcoded.
type Options struct {
	// Model is echoed in message_start.
	Model string
	// InputTokens is the estimated prompt size; zero means unknown.
	InputTokens int
}

// blockAllocator maps a backend output item to a client content block index.
type blockAllocator func(itemID string) int

// singleBlock puts all text into block 0. Responses carry at most one
// content block.
func singleBlock(string) int { return 0 }

// transcoder holds the per-response state. It is owned by one Transcode call.
type transcoder struct {
	sink  Sink
	opts  Options
	alloc blockAllocator

	messageID  string
	blockID    string
	blockOpen  bool
	blockIndex int
	stopReason string
	completed  bool

	// sinkErr is the first write failure; nothing more is emitted after it.
	sinkErr error
}

// Transcode reads backend events from src and emits the Messages API event
// sequence to sink. message_start is always first and message_stop always
// last, emitted exactly once, whether the backend finishes, fails, or ctx
// ends. Transcode stops reading when ctx is done or a sink write fails and
// returns the write failure, if any. It does not close src.
func Transcode(ctx context.Context, src stream.Source, sink Sink, opts Options) error {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	t := &transcoder{
		sink:       sink,
		opts:       opts,
		alloc:      singleBlock,
		messageID:  "msg_" + id,
		blockID:    "content-block-" + id,
		stopReason: types.StopReasonEndTurn,
	}
	entry := logging.FromContext(ctx)

	t.messageStart()
	defer t.emit(EventMessageStop, []byte(`{"type":"message_stop"}`))

	for t.sinkErr == nil && !t.completed {
		if err := ctx.Err(); err != nil {
			entry.WithError(err).Warn("stream aborted")
			t.fail(types.ErrorTypeInternalServer, abortMessage(ctx))
			break
		}
		evt, err := src.Next()
		if errors.Is(err, io.EOF) {
			entry.Warn("backend stream ended without completion")
			break
		}
		if err != nil {
			msg := err.Error()
			if ctx.Err() != nil {
				msg = abortMessage(ctx)
			}
			entry.WithError(err).Error("backend stream failed")
			t.fail(types.ErrorTypeInternalServer, msg)
			break
		}
		t.handle(entry, evt)
	}
	return t.sinkErr
}

func abortMessage(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "backend response exceeded the configured timeout"
	}
	return fmt.Sprintf("request cancelled: %v", context.Cause(ctx))
}

func (t *transcoder) handle(entry *log.Entry, evt stream.Event) {
	switch e := evt.(type) {
	case stream.TextDelta:
		t.textDelta(e)
	case stream.ToolCallDone:
		t.stopReason = types.StopReasonToolUse
	case stream.Completed:
		t.complete(e)
	case stream.Failed:
		entry.WithField("message", e.Message).Warn("backend reported error")
		t.fail(types.ErrorTypeAPI, e.Message)
	case stream.Progress:
	}
}

func (t *transcoder) emit(event string, data []byte) {
	if t.sinkErr != nil {
		return
	}
	t.sinkErr = t.sink.Emit(event, data)
}

func (t *transcoder) messageStart() {
	inputTokens := t.opts.InputTokens
	if inputTokens <= 0 {
		inputTokens = placeholderTokens
	}
	b := []byte(`{"type":"message_start","message":{"id":"","type":"message","role":"assistant","content":[],"model":"","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}}`)
	b, _ = sjson.SetBytes(b, "message.id", t.messageID)
	b, _ = sjson.SetBytes(b, "message.model", t.opts.Model)
	b, _ = sjson.SetBytes(b, "message.usage.input_tokens", inputTokens)
	t.emit(EventMessageStart, b)
}

func (t *transcoder) textDelta(e stream.TextDelta) {
	if !t.blockOpen {
		t.blockIndex = t.alloc(e.ItemID)
		b := []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","id":"","text":""}}`)
		b, _ = sjson.SetBytes(b, "index", t.blockIndex)
		b, _ = sjson.SetBytes(b, "content_block.id", t.blockID)
		t.emit(EventContentBlockStart, b)
		t.blockOpen = true
	}
	b := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`)
	b, _ = sjson.SetBytes(b, "index", t.blockIndex)
	b, _ = sjson.SetBytes(b, "delta.text", e.Text)
	t.emit(EventContentBlockDelta, b)
}

func (t *transcoder) complete(e stream.Completed) {
	t.completed = true
	if t.blockOpen {
		b, _ := sjson.SetBytes([]byte(`{"type":"content_block_stop","index":0}`), "index", t.blockIndex)
		t.emit(EventContentBlockStop, b)
		t.blockOpen = false
	}
	if e.IncompleteReason == "max_output_tokens" {
		t.stopReason = types.StopReasonMaxTokens
	}

	b := []byte(`{"type":"message_delta","delta":{"stop_reason":"","stop_sequence":null},"usage":{}}`)
	b, _ = sjson.SetBytes(b, "delta.stop_reason", t.stopReason)
	if e.Usage != nil {
		b, _ = sjson.SetBytes(b, "usage.input_tokens", e.Usage.InputTokens)
		b, _ = sjson.SetBytes(b, "usage.output_tokens", e.Usage.OutputTokens)
	} else {
		b, _ = sjson.SetBytes(b, "usage.output_tokens", placeholderTokens)
	}
	t.emit(EventMessageDelta, b)
}

func (t *transcoder) fail(errType, message string) {
	b := []byte(`{"type":"error","error":{"type":"","message":""}}`)
	b, _ = sjson.SetBytes(b, "error.type", errType)
	b, _ = sjson.SetBytes(b, "error.message", message)
	t.emit(EventError, b)
}
