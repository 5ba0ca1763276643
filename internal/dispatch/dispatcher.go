// Package dispatch is the only sanctioned path from the orchestrator and
// event handler to the outside. It shapes run events into wire frames and
// pushes them through the connection manager, enforcing the terminal
// contract: any number of stream frames, then exactly one close or error,
// then nothing.
package dispatch

import (
	"context"
	"sync"

	"github.com/loomworks/loom/internal/conn"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

// Dispatcher emits one run's frames onto its channel. It is safe for
// concurrent use; frames are serialized so per-run emission order is
// preserved end to end.
type Dispatcher struct {
	manager   conn.Manager
	logger    *observability.Logger
	metrics   *observability.Metrics
	channelID string
	runID     string
	threadID  string

	mu       sync.Mutex
	terminal bool
}

// New creates a dispatcher bound to one run. logger and metrics may be nil.
func New(manager conn.Manager, channelID, runID, threadID string, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		manager:   manager,
		logger:    logger,
		metrics:   metrics,
		channelID: channelID,
		runID:     runID,
		threadID:  threadID,
	}
}

// Stream emits a partial or final domain message. Patch tells the
// receiver to merge the payload by message id into an existing message
// instead of appending. Frames arriving after the terminal are dropped.
func (d *Dispatcher) Stream(ctx context.Context, msg *models.Message, messageType models.FrameMessageType, streaming, patch bool) error {
	return d.emit(ctx, &models.Frame{
		RunID:       d.runID,
		ThreadID:    d.threadID,
		ChannelID:   d.channelID,
		Event:       models.FrameEventMessage,
		MessageType: messageType,
		Streaming:   streaming,
		Patch:       patch,
		Message:     msg,
	})
}

// Close emits the terminal success frame. At most one terminal is ever
// broadcast; later calls are no-ops.
func (d *Dispatcher) Close(ctx context.Context) error {
	return d.emit(ctx, &models.Frame{
		RunID:       d.runID,
		ThreadID:    d.threadID,
		ChannelID:   d.channelID,
		Event:       models.FrameEventClose,
		MessageType: models.FrameClose,
	})
}

// Error emits the terminal failure frame with the generic user-facing
// text; detail carries the technical message. Mutually exclusive with
// Close: whichever lands first wins.
func (d *Dispatcher) Error(ctx context.Context, detail string) error {
	return d.emit(ctx, &models.Frame{
		RunID:       d.runID,
		ThreadID:    d.threadID,
		ChannelID:   d.channelID,
		Event:       models.FrameEventError,
		MessageType: models.FrameError,
		Message:     models.NewTextMessage(d.runID+":error", d.threadID, d.runID, models.RoleAssistant, models.GenericErrorText),
		ErrorDetail: detail,
	})
}

// Terminated reports whether the terminal frame has been emitted.
func (d *Dispatcher) Terminated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminal
}

// emit holds the dispatcher lock across the broadcast. The manager does
// not buffer, so a slow subscriber suspends the calling run here; that
// backpressure is deliberate.
func (d *Dispatcher) emit(ctx context.Context, frame *models.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminal {
		if d.logger != nil {
			d.logger.Warn(ctx, "frame dropped after terminal",
				"run_id", d.runID,
				"event", string(frame.Event))
		}
		return nil
	}
	if frame.Terminal() {
		d.terminal = true
	}
	if d.metrics != nil {
		d.metrics.FramesBroadcast.WithLabelValues(string(frame.Event)).Inc()
	}
	return d.manager.Broadcast(ctx, d.channelID, frame)
}
