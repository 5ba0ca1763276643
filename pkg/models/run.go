package models

import "time"

// RunStatus is the lifecycle state of a run. Transitions are monotone with
// one exception: requires_action may return to in_progress after tool
// outputs are submitted. Terminal statuses are sinks.
type RunStatus string

const (
	RunStatusStarted        RunStatus = "started"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
)

// Terminal reports whether the status is a sink.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// StepType classifies one atomic model decision.
type StepType string

const (
	StepTypeMessageCreation StepType = "message_creation"
	StepTypeToolCalls       StepType = "tool_calls"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusCancelled  StepStatus = "cancelled"
)

// Usage counts tokens for one step or one run.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// StepDetails holds either a message-id reference (message_creation) or the
// ordered tool-call list (tool_calls), discriminated by Type.
type StepDetails struct {
	Type      StepType   `json:"type"`
	MessageID string     `json:"message_id,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// RunStep is one atomic decision by the model within a run. Steps are
// totally ordered by CreatedAt; tool-call ids are globally unique within
// the run.
type RunStep struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id"`
	ThreadID    string      `json:"thread_id"`
	AssistantID string      `json:"assistant_id,omitempty"`
	Type        StepType    `json:"type"`
	Status      StepStatus  `json:"status"`
	StepDetails StepDetails `json:"step_details"`
	Usage       Usage       `json:"usage"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the step.
func (s *RunStep) Clone() *RunStep {
	if s == nil {
		return nil
	}
	cp := *s
	cp.StepDetails.ToolCalls = cloneToolCalls(s.StepDetails.ToolCalls)
	return &cp
}

// Metadata keys the orchestrator writes into Run.Metadata.
const (
	RunMetaCredits     = "credits"
	RunMetaErrors      = "errors"
	RunMetaEvents      = "events"
	RunMetaToolOutputs = "tool_outputs"
)

// Run is the root aggregate: one bounded execution of an agent against a
// user message. Usage always equals the sum over Steps.
type Run struct {
	ID         string         `json:"id"`
	ThreadID   string         `json:"thread_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	AgentID    string         `json:"agent_id"`
	ExternalID string         `json:"external_id,omitempty"`
	Status     RunStatus      `json:"status"`
	Steps      []RunStep      `json:"steps,omitempty"`
	Usage      Usage          `json:"usage"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt time.Time      `json:"modified_at"`
}

// AddStep appends a step in emission order and folds its usage into the
// run total.
func (r *Run) AddStep(step RunStep) {
	r.Steps = append(r.Steps, step)
	r.Usage.Add(step.Usage)
	r.ModifiedAt = time.Now().UTC()
}

// SetStatus applies a status transition, returning false for transitions
// the lifecycle forbids. Terminal statuses never change; requires_action
// is the only state a run can leave backwards (to in_progress).
func (r *Run) SetStatus(next RunStatus) bool {
	if r.Status == next {
		return true
	}
	if r.Status.Terminal() {
		return false
	}
	switch r.Status {
	case RunStatusStarted:
		// Any forward movement is allowed, including straight to a
		// terminal for pre-loop failures.
	case RunStatusInProgress:
		if next == RunStatusStarted {
			return false
		}
	case RunStatusRequiresAction:
		if next == RunStatusStarted {
			return false
		}
	}
	r.Status = next
	r.ModifiedAt = time.Now().UTC()
	return true
}

// SetMeta writes a metadata entry, allocating the map on first use.
func (r *Run) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// AppendError records a non-fatal or fatal error into Metadata[RunMetaErrors].
func (r *Run) AppendError(msg string) {
	var errs []string
	if r.Metadata != nil {
		if existing, ok := r.Metadata[RunMetaErrors].([]string); ok {
			errs = existing
		}
	}
	r.SetMeta(RunMetaErrors, append(errs, msg))
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Steps = make([]RunStep, len(r.Steps))
	for i := range r.Steps {
		cp.Steps[i] = *r.Steps[i].Clone()
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Tags = append([]string(nil), r.Tags...)
	return &cp
}
