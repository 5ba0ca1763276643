// Package runctx carries per-run state through the process: an ambient
// RunContext travels on the context.Context of the owning run, and a
// process-wide registry maps run ids to live contexts so actors that only
// know a run id (cancellation, diagnostics) can reach them.
package runctx

import (
	"context"
	"sync"

	"github.com/loomworks/loom/pkg/models"
)

// Storage slot names used by the orchestrator and the tool runner.
const (
	slotToolCalls   = "tool_calls"
	slotErrors      = "errors"
	slotMessages    = "messages"
	slotRunMetadata = "run_metadata"
	slotToolOutputs = "tool_outputs"
)

// StopKey returns the scratch-storage key of the cooperative stop flag.
func StopKey(runID string) string {
	return "run:stop:" + runID
}

// RunContext is the per-run execution scope. Identity fields are immutable
// after New; scratch storage is guarded and safe for concurrent access.
type RunContext struct {
	ChannelID string
	RunID     string
	ThreadID  string
	TenantID  string
	Agent     models.AgentConfig

	mu      sync.RWMutex
	storage map[string]any
}

// New creates a run context with empty scratch storage.
func New(channelID, runID, threadID, tenantID string, agent models.AgentConfig) *RunContext {
	return &RunContext{
		ChannelID: channelID,
		RunID:     runID,
		ThreadID:  threadID,
		TenantID:  tenantID,
		Agent:     agent,
		storage:   make(map[string]any),
	}
}

// Get reads a scratch-storage value.
func (rc *RunContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	val, ok := rc.storage[key]
	return val, ok
}

// Set writes a scratch-storage value.
func (rc *RunContext) Set(key string, val any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.storage[key] = val
}

// Delete removes a scratch-storage value.
func (rc *RunContext) Delete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.storage, key)
}

// Stop raises the cooperative stop flag for this run.
func (rc *RunContext) Stop() {
	rc.Set(StopKey(rc.RunID), true)
}

// Stopped reports whether the stop flag has been raised. The orchestrator
// checks it before each model request and before each tool dispatch.
func (rc *RunContext) Stopped() bool {
	val, ok := rc.Get(StopKey(rc.RunID))
	if !ok {
		return false
	}
	stopped, _ := val.(bool)
	return stopped
}

// ToolConfig returns the agent's config overrides for one toolkit, or nil.
func (rc *RunContext) ToolConfig(toolkit string) map[string]any {
	cfg, ok := rc.Agent.ToolConfig[toolkit]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(cfg.Config))
	for k, v := range cfg.Config {
		out[k] = v
	}
	return out
}

// AppendError records a loop failure for later merge into run metadata.
func (rc *RunContext) AppendError(msg string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	errs, _ := rc.storage[slotErrors].([]string)
	rc.storage[slotErrors] = append(errs, msg)
}

// Errors returns the recorded loop failures in order.
func (rc *RunContext) Errors() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	errs, _ := rc.storage[slotErrors].([]string)
	out := make([]string, len(errs))
	copy(out, errs)
	return out
}

// SetCurrentToolCalls stores the tool calls of the step being executed.
func (rc *RunContext) SetCurrentToolCalls(calls []models.ToolCall) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	cloned := make([]models.ToolCall, len(calls))
	copy(cloned, calls)
	rc.storage[slotToolCalls] = cloned
}

// CurrentToolCalls returns the tool calls of the step being executed.
func (rc *RunContext) CurrentToolCalls() []models.ToolCall {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	calls, _ := rc.storage[slotToolCalls].([]models.ToolCall)
	out := make([]models.ToolCall, len(calls))
	copy(out, calls)
	return out
}

// BufferToolCalls appends enriched tool calls produced while servicing a
// remote requires_action cycle.
func (rc *RunContext) BufferToolCalls(calls []models.ToolCall) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	buffered, _ := rc.storage[slotToolOutputs].([]models.ToolCall)
	rc.storage[slotToolOutputs] = append(buffered, calls...)
}

// TakeBufferedToolCalls returns and clears the buffered tool calls.
func (rc *RunContext) TakeBufferedToolCalls() []models.ToolCall {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	buffered, _ := rc.storage[slotToolOutputs].([]models.ToolCall)
	delete(rc.storage, slotToolOutputs)
	return buffered
}

// RecordMessage remembers the id of a message persisted during this run.
func (rc *RunContext) RecordMessage(messageID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	ids, _ := rc.storage[slotMessages].([]string)
	for _, id := range ids {
		if id == messageID {
			return
		}
	}
	rc.storage[slotMessages] = append(ids, messageID)
}

// Messages returns the ids of messages persisted during this run, in order.
func (rc *RunContext) Messages() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	ids, _ := rc.storage[slotMessages].([]string)
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// SetRunMetadata stages a key for merge into Run.Metadata at persist time.
func (rc *RunContext) SetRunMetadata(key string, val any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	meta, _ := rc.storage[slotRunMetadata].(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
		rc.storage[slotRunMetadata] = meta
	}
	meta[key] = val
}

// RunMetadata returns the staged run metadata.
func (rc *RunContext) RunMetadata() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	meta, _ := rc.storage[slotRunMetadata].(map[string]any)
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

type contextKey struct{}

type tenantKey struct{}

// With attaches the run context to ctx. Goroutines spawned with the
// returned context inherit it.
func With(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From extracts the ambient run context, if any.
func From(ctx context.Context) (*RunContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RunContext)
	return rc, ok
}

// WithTenant attaches the tenant id in its own slot. Background runs that
// do not inherit the calling scope still carry tenant identity this way.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom returns the ambient tenant id, falling back to the run
// context's tenant when no explicit slot is set.
func TenantFrom(ctx context.Context) string {
	if id, ok := ctx.Value(tenantKey{}).(string); ok && id != "" {
		return id
	}
	if rc, ok := From(ctx); ok {
		return rc.TenantID
	}
	return ""
}
