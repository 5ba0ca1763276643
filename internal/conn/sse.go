package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/loomworks/loom/pkg/models"
)

// SSESubscriber streams frames to one server-sent-events response. Writes
// are serialized; the HTTP handler owns the response lifetime and must
// keep the handler goroutine alive while the subscriber is connected.
type SSESubscriber struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESubscriber prepares the response for event streaming. Returns an
// error when the writer does not support flushing.
func NewSSESubscriber(w http.ResponseWriter) (*SSESubscriber, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSESubscriber{w: w, flusher: flusher}, nil
}

// Send writes one frame as an SSE event named after the frame family.
func (s *SSESubscriber) Send(ctx context.Context, frame *models.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", frame.Event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
