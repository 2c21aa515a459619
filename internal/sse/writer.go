// Package sse relays backend events to Messages API clients as server-sent
// events.
package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sink receives client events in emission order.
type Sink interface {
	Emit(event string, data []byte) error
}

// ErrNoFlusher is returned when the response writer cannot stream.
var ErrNoFlusher = errors.New("sse: response writer does not support flushing")

// Writer frames events onto an HTTP response, flushing after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter sets the event-stream headers on w and returns a Writer over it.
// Headers must not have been written yet.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Emit writes one frame: "event: <name>\ndata: <json>\n\n".
func (w *Writer) Emit(event string, data []byte) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
