package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// eventStream writes server-sent events. Headers go out lazily on the first
// event so an error before any output can still use a plain HTTP status.
type eventStream struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	started  bool
	writeErr error
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	return &eventStream{w: w, flusher: flusher}, nil
}

func (s *eventStream) start() {
	if s.started {
		return
	}
	s.started = true
	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

func (s *eventStream) send(event any) {
	if s.writeErr != nil {
		return
	}
	s.start()
	payload, err := json.Marshal(event)
	if err != nil {
		s.writeErr = err
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.writeErr = err
		return
	}
	s.flusher.Flush()
}

func (s *eventStream) sendError(err error) {
	s.send(map[string]string{"type": "error", "error": err.Error()})
}

func (s *eventStream) close() {
	if s.writeErr != nil {
		return
	}
	s.start()
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		s.writeErr = err
		return
	}
	s.flusher.Flush()
}

func (s *eventStream) err() error {
	return s.writeErr
}
