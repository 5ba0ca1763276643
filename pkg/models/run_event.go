package models

import "time"

// RunEvent is the unified event model both execution backends normalize
// into. The local chat-completions loop synthesizes these from provider
// chunks; the hosted-assistant binding synthesizes them from remote run
// progress. The orchestrator and event handler consume only this taxonomy.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence within a run for ordering across goroutines
type RunEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type RunEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run; ties in step ordering break on it.
	Sequence uint64 `json:"seq"`

	// RunID identifies the run.
	RunID string `json:"run_id,omitempty"`

	// StepIndex is the 0-based step-loop iteration that produced the event.
	StepIndex int `json:"step_index,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Message   *Message       `json:"message,omitempty"`
	Step      *RunStep       `json:"step,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Usage     *Usage         `json:"usage,omitempty"`
	Error     *RunEventError `json:"error,omitempty"`
}

// RunEventType identifies the kind of run event.
type RunEventType string

const (
	// Run lifecycle
	RunEventStarted        RunEventType = "run.started"
	RunEventRequiresAction RunEventType = "run.requires_action"
	RunEventCompleted      RunEventType = "run.completed"
	RunEventFailed         RunEventType = "run.failed"
	RunEventCancelled      RunEventType = "run.cancelled"

	// Step lifecycle
	RunEventStepDelta RunEventType = "step.delta"
	RunEventStepDone  RunEventType = "step.done"

	// Message streaming
	RunEventMessageDelta RunEventType = "message.delta"
	RunEventMessageDone  RunEventType = "message.done"
)

// Terminal reports whether the event ends its run's stream.
func (t RunEventType) Terminal() bool {
	switch t {
	case RunEventCompleted, RunEventFailed, RunEventCancelled:
		return true
	}
	return false
}

// RunEventError standardizes failures flowing through the event stream.
type RunEventError struct {
	// Message is the technical error description.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Err is the original error (runtime only, not serialized).
	// Preserved so consumers can use errors.Is/errors.As.
	Err error `json:"-"`
}
