package tools

import (
	"context"
	"encoding/json"
)

// endRunTool is the built-in sentinel. Calling it never produces output;
// the runner short-circuits into an EndTurn result and the orchestrator
// terminates the step loop with status completed.
type endRunTool struct{}

func (endRunTool) Name() string { return EndRunToolName }

func (endRunTool) Description() string {
	return "End the current run. Call this when the conversation is complete and no further response is needed."
}

func (endRunTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
}

func (endRunTool) Execute(context.Context, json.RawMessage) (*Result, error) {
	return &Result{Value: EndRun{}, EndTurn: true}, nil
}
