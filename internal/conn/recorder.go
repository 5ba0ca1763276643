package conn

import (
	"context"
	"sync"

	"github.com/loomworks/loom/pkg/models"
)

// Recorder is a Subscriber that captures every frame it receives, in
// order. Used by tests and by the CLI's transcript mode.
type Recorder struct {
	mu     sync.Mutex
	frames []*models.Frame
	err    error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Fail makes every subsequent Send return err.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Send(ctx context.Context, frame *models.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *frame
	r.frames = append(r.frames, &cp)
	return nil
}

// Frames returns a snapshot of everything received so far.
func (r *Recorder) Frames() []*models.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Last returns the most recent frame, or nil.
func (r *Recorder) Last() *models.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}
