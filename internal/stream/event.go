// Package stream decodes backend Responses API stream events into the small
// set of variants the gateway acts on.
package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Backend event types the gateway understands.
const (
	TypeOutputTextDelta       = "response.output_text.delta"
	TypeFunctionArgumentsDone = "response.function_call_arguments.done"
	TypeOutputItemDone        = "response.output_item.done"
	TypeCompleted             = "response.completed"
	TypeIncomplete            = "response.incomplete"
	TypeFailed                = "response.failed"
	TypeError                 = "error"
)

// Event is a decoded backend event. The set of variants is closed: TextDelta,
// ToolCallDone, Completed, Failed and Progress.
type Event interface {
	event()
}

// TextDelta carries a fragment of assistant text.
type TextDelta struct {
	ItemID string
	Text   string
}

// ToolCallDone reports a finished function call.
type ToolCallDone struct {
	CallID    string
	Name      string
	Arguments string
}

// Completed ends the response. Usage is nil when the backend sent none.
// IncompleteReason is set when the backend stopped early.
type Completed struct {
	Usage            *Usage
	IncompleteReason string
}

// Failed reports a backend error carried inside the stream.
type Failed struct {
	Message string
}

// Progress is any other lifecycle event. It is ignored by the transcoder.
type Progress struct {
	Type string
}

func (TextDelta) event()    {}
func (ToolCallDone) event() {}
func (Completed) event()    {}
func (Failed) event()       {}
func (Progress) event()     {}

// Source yields backend events in order. Next returns io.EOF once the stream
// is exhausted. Close releases the underlying connection.
type Source interface {
	Next() (Event, error)
	Close() error
}

// Decode maps a raw backend event to its variant. Unknown or malformed
// events decode to Progress.
func Decode(eventType, raw string) Event {
	data := gjson.Parse(raw)
	if eventType == "" {
		eventType = data.Get("type").String()
	}

	switch eventType {
	case TypeOutputTextDelta:
		return TextDelta{ItemID: data.Get("item_id").String(), Text: data.Get("delta").String()}

	case TypeFunctionArgumentsDone:
		return ToolCallDone{
			CallID:    firstNonEmpty(data.Get("call_id").String(), data.Get("item_id").String()),
			Name:      data.Get("name").String(),
			Arguments: data.Get("arguments").String(),
		}

	case TypeOutputItemDone:
		item := data.Get("item")
		if item.Get("type").String() != "function_call" {
			return Progress{Type: eventType}
		}
		return ToolCallDone{
			CallID:    firstNonEmpty(item.Get("call_id").String(), item.Get("id").String()),
			Name:      item.Get("name").String(),
			Arguments: item.Get("arguments").String(),
		}

	case TypeCompleted:
		return Completed{Usage: ExtractUsage(data.Get("response"))}

	case TypeIncomplete:
		resp := data.Get("response")
		return Completed{
			Usage:            ExtractUsage(resp),
			IncompleteReason: firstNonEmpty(resp.Get("incomplete_details.reason").String(), "unknown"),
		}

	case TypeFailed:
		return Failed{Message: firstNonEmpty(data.Get("response.error.message").String(), TypeFailed)}

	case TypeError:
		return Failed{Message: firstNonEmpty(
			data.Get("message").String(),
			data.Get("error.message").String(),
			"backend stream error",
		)}
	}
	return Progress{Type: eventType}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
