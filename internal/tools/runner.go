package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/runctx"
	"github.com/loomworks/loom/pkg/models"
)

// DefaultTimeout bounds one tool invocation when the runner is built
// with a zero timeout.
const DefaultTimeout = 30 * time.Second

// Runner executes resolved tool calls. A tool failure is never a run
// failure: it becomes the call's output string and the loop continues.
type Runner struct {
	registry *Registry
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewRunner creates a runner over the registry. logger and metrics may be
// nil.
func NewRunner(registry *Registry, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Execute resolves and runs one tool call, shaping the outcome into a
// ToolResult. The ambient run context supplies per-toolkit config
// overrides and is inherited by the tool's goroutine.
func (r *Runner) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	if call.Name == EndRunToolName {
		return models.ToolResult{ToolCallID: call.ID, EndTurn: true}
	}

	tool, ok := r.registry.Get(call.Name)
	if !ok {
		return r.errorResult(call, fmt.Errorf("unknown tool"))
	}

	args, err := r.prepareArgs(ctx, tool, call)
	if err != nil {
		r.countExecution(call.Name, "error")
		return r.errorResult(call, err)
	}

	start := time.Now()
	result, timedOut, execErr := r.invoke(ctx, tool, call, args)
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())
	}

	switch {
	case timedOut:
		r.countExecution(call.Name, "timeout")
		return r.errorResult(call, fmt.Errorf("timed out after %v", r.timeout))
	case errors.Is(execErr, ErrEndRun):
		r.countExecution(call.Name, "success")
		return models.ToolResult{ToolCallID: call.ID, EndTurn: true}
	case execErr != nil:
		r.countExecution(call.Name, "error")
		return r.errorResult(call, execErr)
	}

	r.countExecution(call.Name, "success")
	return r.shape(call, result)
}

// ExecuteAll runs the calls of one step in order and returns the results
// in the same order. It stops early when a sentinel ends the turn or the
// run's stop flag is raised between dispatches; the remaining calls are
// still resolved so every reported call has an outcome.
func (r *Runner) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	for i, call := range calls {
		if rc, ok := runctx.From(ctx); ok && rc.Stopped() {
			for j := i; j < len(calls); j++ {
				results[j] = r.errorResult(calls[j], errors.New("run stopped"))
			}
			break
		}
		results[i] = r.Execute(ctx, call)
		if results[i].EndTurn {
			for j := i + 1; j < len(calls); j++ {
				results[j] = models.ToolResult{ToolCallID: calls[j].ID, EndTurn: true}
			}
			break
		}
	}
	return results
}

// prepareArgs validates the invocation payload against the tool's schema
// and merges in the agent's per-toolkit config overrides. Invocation
// arguments win over config keys.
func (r *Runner) prepareArgs(ctx context.Context, tool Tool, call models.ToolCall) (json.RawMessage, error) {
	raw := call.Arguments
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	schema, err := r.compiled(tool)
	if err != nil {
		return nil, fmt.Errorf("invalid tool schema: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("invalid arguments: %v", err)
	}

	if rc, ok := runctx.From(ctx); ok {
		kit := r.registry.ToolkitOf(tool.Name())
		if kit == "" {
			kit = tool.Name()
		}
		for key, val := range rc.ToolConfig(kit) {
			if _, taken := payload[key]; !taken {
				payload[key] = val
			}
		}
	}

	merged, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	return merged, nil
}

// invoke runs the tool body under the per-call timeout. The result
// channel has capacity 1 and the send is non-blocking, so a tool that
// ignores cancellation finishes in the background and its result is
// discarded.
func (r *Runner) invoke(ctx context.Context, tool Tool, call models.ToolCall, args json.RawMessage) (*Result, bool, error) {
	type outcome struct {
		result *Result
		err    error
	}

	toolCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Execute(toolCtx, args)
		select {
		case done <- outcome{result, err}:
		default:
			if r.logger != nil {
				r.logger.Warn(ctx, "tool finished after cancellation, result discarded",
					"tool", call.Name,
					"tool_call_id", call.ID)
			}
		}
	}()

	select {
	case out := <-done:
		return out.result, false, out.err
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return nil, true, toolCtx.Err()
		}
		return nil, false, toolCtx.Err()
	}
}

// shape converts a tool's raw return into the wire-facing ToolResult.
func (r *Runner) shape(call models.ToolCall, result *Result) models.ToolResult {
	if result == nil {
		return models.ToolResult{ToolCallID: call.ID, OutputString: "null"}
	}
	if result.EndTurn || isEndRunMarker(result.Value) {
		return models.ToolResult{ToolCallID: call.ID, EndTurn: true}
	}

	out := models.ToolResult{
		ToolCallID: call.ID,
		IsPrivate:  result.IsPrivate,
	}

	if structured, ok := structuredOutput(result.Value); ok {
		out.StructuredOutput = structured
	}

	switch {
	case result.ResultsString != "":
		out.OutputString = result.ResultsString
	case out.StructuredOutput != nil:
		out.OutputString = string(out.StructuredOutput)
	default:
		rendered, err := json.Marshal(result.Value)
		if err != nil {
			rendered = []byte(fmt.Sprintf("%v", result.Value))
		}
		out.OutputString = string(rendered)
	}
	return out
}

func (r *Runner) errorResult(call models.ToolCall, err error) models.ToolResult {
	return models.ToolResult{
		ToolCallID:   call.ID,
		OutputString: fmt.Sprintf("Error calling tool %s: %v", call.Name, err),
		IsError:      true,
	}
}

func (r *Runner) compiled(tool Tool) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if schema, ok := r.schemas[tool.Name()]; ok {
		return schema, nil
	}

	url := tool.Name() + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(tool.Schema())); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	r.schemas[tool.Name()] = schema
	return schema, nil
}

func (r *Runner) countExecution(tool, status string) {
	if r.metrics != nil {
		r.metrics.ToolExecutions.WithLabelValues(tool, status).Inc()
	}
}

func isEndRunMarker(v any) bool {
	switch v.(type) {
	case EndRun, *EndRun:
		return true
	}
	return false
}

// structuredOutput serializes record-shaped values (maps, structs,
// slices). Scalars and nil are not structured; they only render into the
// output string.
func structuredOutput(v any) (json.RawMessage, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
	default:
		return nil, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return data, true
}
