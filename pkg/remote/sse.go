package remote

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event: an event name plus its data payload.
type sseEvent struct {
	Type string
	Data string
}

// sseScanner splits a text/event-stream body into events. Fields arrive
// as "event:" and "data:" lines; a blank line closes the event. Multiple
// data lines concatenate with newlines per the SSE format.
type sseScanner struct {
	scanner *bufio.Scanner
	event   sseEvent
}

func newSSEScanner(r io.Reader) *sseScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseScanner{scanner: sc}
}

// Scan advances to the next complete event. It returns false at end of
// stream or on read error.
func (s *sseScanner) Scan() bool {
	var current sseEvent
	var dataLines []string
	seen := false

	for s.scanner.Scan() {
		line := s.scanner.Text()
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if seen {
				current.Data = strings.Join(dataLines, "\n")
				s.event = current
				return true
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			current.Type = strings.TrimSpace(line[len("event:"):])
			seen = true
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
			seen = true
		case strings.HasPrefix(line, ":"):
			// Comment line, keep-alive. Ignored.
		}
	}

	// A dangling event without its closing blank line still counts; the
	// stream just ended right after it.
	if seen {
		current.Data = strings.Join(dataLines, "\n")
		s.event = current
		return true
	}
	return false
}

// Event returns the event found by the last successful Scan.
func (s *sseScanner) Event() sseEvent {
	return s.event
}

// Err surfaces the underlying read error, if any.
func (s *sseScanner) Err() error {
	return s.scanner.Err()
}
