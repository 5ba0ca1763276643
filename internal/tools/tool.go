// Package tools resolves model-requested tool calls against the agent's
// active tool set and executes them. Polymorphism is by capability, not
// inheritance: a tool is a name, a JSON schema, and an invoke function.
// Toolkits are labeled bundles of tools sharing a config surface.
package tools

import (
	"context"
	"encoding/json"
	"errors"
)

// EndRunToolName is the sentinel tool name that terminates the step loop
// with a completed status.
const EndRunToolName = "end_run"

// ErrEndRun signals that the run should terminate successfully. Tools
// return it (or wrap it) instead of a result when the conversation is
// finished.
var ErrEndRun = errors.New("end run requested")

// EndRun is the marker value a tool may return to terminate the run.
// Equivalent to returning ErrEndRun.
type EndRun struct{}

// Tool is one executable capability advertised to the model.
type Tool interface {
	// Name is the function name the model calls. Alphanumeric plus
	// underscores.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON Schema of the tool's parameters. Invocation
	// arguments are validated against it before Execute runs.
	Schema() json.RawMessage

	// Execute runs the tool. args is the validated invocation payload
	// merged with any per-toolkit config override. Execution failures are
	// reported through the error; they become the tool's output string,
	// never a run failure.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is a tool's raw return before the runner shapes it into a
// models.ToolResult.
type Result struct {
	// Value is the structured return. When it is a record (struct or
	// map), it becomes the tool call's structured_output.
	Value any

	// ResultsString is the tool's self-declared string rendering. When
	// empty the runner falls back to a deterministic JSON serialization
	// of Value.
	ResultsString string

	// IsPrivate excludes the output from subscriber-facing frames; it is
	// still fed back to the model.
	IsPrivate bool

	// EndTurn terminates the step loop with a completed status, like the
	// end_run sentinel.
	EndTurn bool
}

// Toolkit is a labeled bundle of tools. The agent config enables
// toolkits by name; per-toolkit config overrides merge into every
// invocation of the toolkit's tools.
type Toolkit struct {
	Name  string
	Tools []Tool
}
