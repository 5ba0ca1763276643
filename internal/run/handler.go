// Package run drives one bounded agent execution: the orchestrator owns
// the run lifecycle, the local loop drives a chat-completions model step
// by step, and the hosted loop delegates to a remote assistant service.
// Both loops normalize progress into the run-event taxonomy; the handler
// is the single consumer that turns events into persisted state and
// outbound frames.
package run

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/runctx"
	"github.com/loomworks/loom/pkg/models"
)

// Handler folds run events into the run aggregate, runtime memory, and
// the dispatcher. One handler exists per run and is driven from the run's
// own goroutine, so no locking is needed on the run aggregate. Terminal
// frames are not emitted here; the orchestrator owns the
// exactly-one-terminal contract.
type Handler struct {
	run        *models.Run
	rc         *runctx.RunContext
	memory     *memory.Memory
	dispatcher *dispatch.Dispatcher
	timeline   *observability.Timeline
	logger     *observability.Logger

	seq         uint64
	framed      map[string]bool
	eventLog    []string
	remoteUsage models.Usage
	failure     *models.RunEventError
}

// NewHandler creates the event handler for one run. timeline and logger
// may be nil.
func NewHandler(run *models.Run, rc *runctx.RunContext, mem *memory.Memory, dispatcher *dispatch.Dispatcher, timeline *observability.Timeline, logger *observability.Logger) *Handler {
	return &Handler{
		run:        run,
		rc:         rc,
		memory:     mem,
		dispatcher: dispatcher,
		timeline:   timeline,
		logger:     logger,
		framed:     make(map[string]bool),
	}
}

// Handle consumes one event. Sequence numbers are reassigned here so the
// run's event log is monotonic regardless of which loop produced the
// event.
func (h *Handler) Handle(ctx context.Context, ev *models.RunEvent) error {
	h.seq++
	ev.Version = 1
	ev.Sequence = h.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.RunID == "" {
		ev.RunID = h.run.ID
	}
	h.eventLog = append(h.eventLog, fmt.Sprintf("%d:%s", ev.Sequence, ev.Type))

	switch ev.Type {
	case models.RunEventStarted:
		h.run.SetStatus(models.RunStatusInProgress)
		h.record(observability.TimelineEvent{Type: observability.TimelineRunStarted})
		return nil

	case models.RunEventRequiresAction:
		h.run.SetStatus(models.RunStatusRequiresAction)
		msg := &models.Message{
			ID:       fmt.Sprintf("%s:action:%d", h.run.ID, ev.Sequence),
			ThreadID: h.run.ThreadID,
			RunID:    h.run.ID,
			Role:     models.RoleAssistant,
			Metadata: models.MessageMetadata{
				Type:      models.MessageTypeToolCall,
				ToolCalls: ev.ToolCalls,
				CreatedAt: ev.Time,
			},
		}
		return h.dispatcher.Stream(ctx, msg, models.FrameAction, false, false)

	case models.RunEventMessageDelta:
		if ev.Message == nil {
			return nil
		}
		patch := h.framed[ev.Message.ID]
		h.framed[ev.Message.ID] = true
		return h.dispatcher.Stream(ctx, ev.Message, frameTypeFor(ev.Message), true, patch)

	case models.RunEventMessageDone:
		if ev.Message == nil {
			return nil
		}
		if err := h.memory.Put(ctx, ev.Message, true); err != nil {
			return err
		}
		h.rc.RecordMessage(ev.Message.ID)
		patch := h.framed[ev.Message.ID]
		h.framed[ev.Message.ID] = true
		return h.dispatcher.Stream(ctx, ev.Message, frameTypeFor(ev.Message), false, patch)

	case models.RunEventStepDelta:
		if ev.Step == nil || ev.Step.Type != models.StepTypeToolCalls {
			return nil
		}
		msg := &models.Message{
			ID:       ev.Step.ID,
			ThreadID: h.run.ThreadID,
			RunID:    h.run.ID,
			Role:     models.RoleAssistant,
			Metadata: models.MessageMetadata{
				Type:      models.MessageTypeToolCall,
				ToolCalls: ev.Step.StepDetails.ToolCalls,
				CreatedAt: ev.Time,
			},
		}
		patch := h.framed[msg.ID]
		h.framed[msg.ID] = true
		return h.dispatcher.Stream(ctx, msg, models.FrameToolCall, true, patch)

	case models.RunEventStepDone:
		if ev.Step == nil {
			return nil
		}
		h.run.AddStep(*ev.Step.Clone())
		h.record(observability.TimelineEvent{
			Type: observability.TimelineStepFinished,
			Name: string(ev.Step.Type),
		})
		return nil

	case models.RunEventCompleted, models.RunEventFailed, models.RunEventCancelled:
		h.run.SetStatus(statusFor(ev.Type))
		if ev.Usage != nil {
			h.remoteUsage = *ev.Usage
		}
		if ev.Error != nil {
			h.failure = ev.Error
		}
		h.record(observability.TimelineEvent{
			Type:   observability.TimelineRunFinished,
			Name:   string(ev.Type),
			Detail: h.failureDetail(),
		})
		return nil
	}

	if h.logger != nil {
		h.logger.Warn(ctx, "unrecognized run event dropped", "type", string(ev.Type))
	}
	return nil
}

// RemoteUsage returns token usage reported only on the terminal event,
// as the hosted binding does. Zero for the local loop, which attributes
// usage per step.
func (h *Handler) RemoteUsage() models.Usage {
	return h.remoteUsage
}

// Failure returns the terminal error payload, if the run failed.
func (h *Handler) Failure() *models.RunEventError {
	return h.failure
}

// EventLog returns the compact ordered trace of handled events.
func (h *Handler) EventLog() []string {
	out := make([]string, len(h.eventLog))
	copy(out, h.eventLog)
	return out
}

func (h *Handler) failureDetail() string {
	if h.failure == nil {
		return ""
	}
	return h.failure.Message
}

func (h *Handler) record(ev observability.TimelineEvent) {
	if h.timeline != nil {
		h.timeline.Record(h.run.ID, ev)
	}
}

func frameTypeFor(msg *models.Message) models.FrameMessageType {
	switch msg.Metadata.Type {
	case models.MessageTypeToolCall:
		return models.FrameToolCall
	case models.MessageTypeImage:
		return models.FrameImage
	}
	return models.FrameMessage
}

func statusFor(t models.RunEventType) models.RunStatus {
	switch t {
	case models.RunEventFailed:
		return models.RunStatusFailed
	case models.RunEventCancelled:
		return models.RunStatusCancelled
	}
	return models.RunStatusCompleted
}
