package stream

import "io"

// SliceSource replays a fixed list of events, then returns Err (io.EOF when
// Err is nil).
type SliceSource struct {
	Events []Event
	Err    error
	Closed bool
	pos    int
}

// FromEvents returns a Source over events.
func FromEvents(events ...Event) *SliceSource {
	return &SliceSource{Events: events}
}

// Next implements Source.
func (s *SliceSource) Next() (Event, error) {
	if s.pos < len(s.Events) {
		evt := s.Events[s.pos]
		s.pos++
		return evt, nil
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return nil, io.EOF
}

// Close implements Source.
func (s *SliceSource) Close() error {
	s.Closed = true
	return nil
}
