package models

import (
	"testing"
	"time"
)

func TestRunSetStatus_Transitions(t *testing.T) {
	tests := []struct {
		name string
		from RunStatus
		to   RunStatus
		want bool
	}{
		{"started to in_progress", RunStatusStarted, RunStatusInProgress, true},
		{"started to failed", RunStatusStarted, RunStatusFailed, true},
		{"in_progress to requires_action", RunStatusInProgress, RunStatusRequiresAction, true},
		{"in_progress to completed", RunStatusInProgress, RunStatusCompleted, true},
		{"in_progress to started", RunStatusInProgress, RunStatusStarted, false},
		{"requires_action to in_progress", RunStatusRequiresAction, RunStatusInProgress, true},
		{"requires_action to cancelled", RunStatusRequiresAction, RunStatusCancelled, true},
		{"requires_action to started", RunStatusRequiresAction, RunStatusStarted, false},
		{"completed is a sink", RunStatusCompleted, RunStatusInProgress, false},
		{"failed is a sink", RunStatusFailed, RunStatusCompleted, false},
		{"cancelled is a sink", RunStatusCancelled, RunStatusInProgress, false},
		{"same status is a no-op", RunStatusInProgress, RunStatusInProgress, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Run{ID: "run-1", Status: tt.from}
			got := r.SetStatus(tt.to)
			if got != tt.want {
				t.Errorf("SetStatus(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
			if tt.want && r.Status != tt.to {
				t.Errorf("status = %s, want %s", r.Status, tt.to)
			}
			if !tt.want && r.Status != tt.from {
				t.Errorf("rejected transition mutated status to %s", r.Status)
			}
		})
	}
}

func TestRunAddStep_UsageSum(t *testing.T) {
	r := &Run{ID: "run-1", Status: RunStatusInProgress}
	r.AddStep(RunStep{
		ID:    "step-1",
		Type:  StepTypeToolCalls,
		Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	r.AddStep(RunStep{
		ID:    "step-2",
		Type:  StepTypeMessageCreation,
		Usage: Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
	})

	var want Usage
	for _, s := range r.Steps {
		want.Add(s.Usage)
	}
	if r.Usage != want {
		t.Errorf("run usage = %+v, want sum over steps %+v", r.Usage, want)
	}
	if r.Usage.TotalTokens != 43 {
		t.Errorf("total tokens = %d, want 43", r.Usage.TotalTokens)
	}
}

func TestRunClone_Isolation(t *testing.T) {
	r := &Run{
		ID:     "run-1",
		Status: RunStatusInProgress,
		Steps: []RunStep{{
			ID:   "step-1",
			Type: StepTypeToolCalls,
			StepDetails: StepDetails{
				Type:      StepTypeToolCalls,
				ToolCalls: []ToolCall{{ID: "call-1", Name: "web_browser"}},
			},
		}},
		Metadata:  map[string]any{"credits": 2},
		CreatedAt: time.Now(),
	}

	cp := r.Clone()
	cp.Steps[0].StepDetails.ToolCalls[0].OutputString = "patched"
	cp.Metadata["credits"] = 9

	if got := r.Steps[0].StepDetails.ToolCalls[0].OutputString; got != "" {
		t.Errorf("clone mutation leaked into original tool call: %q", got)
	}
	if got := r.Metadata["credits"]; got != 2 {
		t.Errorf("clone mutation leaked into original metadata: %v", got)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	for _, s := range []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunStatusStarted, RunStatusInProgress, RunStatusRequiresAction} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
