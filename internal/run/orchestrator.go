package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/assistants"
	"github.com/loomworks/loom/internal/conn"
	"github.com/loomworks/loom/internal/credits"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/prompt"
	"github.com/loomworks/loom/internal/runctx"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/tools"
	"github.com/loomworks/loom/pkg/models"
)

// Trigger is one request to run an agent against a thread.
type Trigger struct {
	ChannelID   string
	ThreadID    string
	RunID       string
	AgentID     string
	TenantID    string
	Message     string
	Attachments []models.Attachment
	Tags        []string
}

// Options wires the orchestrator's dependencies. Manager, Providers,
// Tools, and Runner are required for local runs; Assistants enables the
// hosted flavor. Everything observability-related may be nil.
type Options struct {
	Stores     store.Stores
	Manager    conn.Manager
	Runs       *runctx.Registry
	Tools      *tools.Registry
	Runner     *tools.Runner
	Providers  *llm.Registry
	Assistants assistants.Service
	Prompts    *prompt.Registry
	Credits    *credits.Table
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Timeline   *observability.Timeline
}

// Orchestrator owns the run lifecycle: agent resolution, thread and run
// persistence, flavor dispatch, and the exactly-one-terminal contract.
type Orchestrator struct {
	stores    store.Stores
	manager   conn.Manager
	registry  *runctx.Registry
	tools     *tools.Registry
	runner    *tools.Runner
	providers *llm.Registry
	remote    assistants.Service
	prompts   *prompt.Registry
	credits   *credits.Table
	logger    *observability.Logger
	metrics   *observability.Metrics
	timeline  *observability.Timeline
}

// NewOrchestrator creates an orchestrator. A nil Runs registry is
// replaced with a private one; a nil Manager drops frames.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Runs == nil {
		opts.Runs = runctx.NewRegistry()
	}
	if opts.Manager == nil {
		opts.Manager = conn.NoopManager{}
	}
	return &Orchestrator{
		stores:    opts.Stores,
		manager:   opts.Manager,
		registry:  opts.Runs,
		tools:     opts.Tools,
		runner:    opts.Runner,
		providers: opts.Providers,
		remote:    opts.Assistants,
		prompts:   opts.Prompts,
		credits:   opts.Credits,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		timeline:  opts.Timeline,
	}
}

// Registry exposes the live-run registry so other components (gateway,
// CLI) can issue cooperative stops by run id.
func (o *Orchestrator) Registry() *runctx.Registry {
	return o.registry
}

// Execute drives one run to a terminal. Agent-resolution failures return
// an error with no run persisted; every later failure is encoded into
// the returned run's status and metadata, with exactly one terminal
// frame on the channel either way.
func (o *Orchestrator) Execute(ctx context.Context, trigger Trigger) (*models.Run, error) {
	agent, err := o.stores.Agents.Get(ctx, trigger.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", trigger.AgentID, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, trigger.AgentID)
	}

	thread, err := o.stores.Threads.GetOrCreate(ctx, trigger.ThreadID, trigger.TenantID, trigger.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve thread %s: %w", trigger.ThreadID, err)
	}

	run, err := o.stores.Runs.Init(ctx, trigger.RunID, thread.ID, trigger.TenantID, agent.ID, trigger.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize run %s: %w", trigger.RunID, err)
	}

	rc := runctx.New(trigger.ChannelID, run.ID, thread.ID, trigger.TenantID, *agent.Clone())
	o.registry.Register(rc)
	defer o.registry.Release(run.ID)

	started := time.Now()
	if o.metrics != nil {
		o.metrics.RunsStarted.WithLabelValues(string(agent.Mode)).Inc()
		o.metrics.ActiveRuns.Inc()
		defer o.metrics.ActiveRuns.Dec()
	}

	ctx = runctx.With(ctx, rc)
	ctx = runctx.WithTenant(ctx, trigger.TenantID)
	ctx = observability.AddRunID(ctx, run.ID)
	ctx = observability.AddThreadID(ctx, thread.ID)
	ctx = observability.AddChannelID(ctx, trigger.ChannelID)

	dispatcher := dispatch.New(o.manager, trigger.ChannelID, run.ID, thread.ID, o.logger, o.metrics)
	mem := memory.New(thread.ID, o.stores.Messages)
	handler := NewHandler(run, rc, mem, dispatcher, o.timeline, o.logger)

	var loopErr error
	if err := mem.Load(ctx); err != nil {
		loopErr = &RunError{Phase: "memory load", Cause: err}
	} else {
		userMsg := o.userMessage(ctx, trigger, run.ID, thread.ID)
		if err := mem.Put(ctx, userMsg, true); err != nil {
			loopErr = &RunError{Phase: "message persist", Cause: err}
		} else {
			rc.RecordMessage(userMsg.ID)
			if err := handler.Handle(ctx, &models.RunEvent{Type: models.RunEventStarted}); err != nil {
				loopErr = &RunError{Phase: "start", Cause: err}
			} else {
				loopErr = o.dispatchFlavor(ctx, rc, run, thread, userMsg, mem, handler)
			}
		}
	}

	o.finalize(ctx, rc, run, handler, dispatcher, loopErr)

	if o.metrics != nil {
		o.metrics.RunsFinished.WithLabelValues(string(agent.Mode), string(run.Status)).Inc()
		o.metrics.RunDuration.WithLabelValues(string(agent.Mode)).Observe(time.Since(started).Seconds())
		for _, step := range run.Steps {
			o.metrics.Steps.WithLabelValues(string(step.Type)).Inc()
		}
		if run.Usage.PromptTokens > 0 {
			o.metrics.TokensUsed.WithLabelValues(agent.Model, "prompt").Add(float64(run.Usage.PromptTokens))
		}
		if run.Usage.CompletionTokens > 0 {
			o.metrics.TokensUsed.WithLabelValues(agent.Model, "completion").Add(float64(run.Usage.CompletionTokens))
		}
	}
	return run, nil
}

func (o *Orchestrator) dispatchFlavor(ctx context.Context, rc *runctx.RunContext, run *models.Run, thread *models.Thread, userMsg *models.Message, mem *memory.Memory, handler *Handler) error {
	if rc.Agent.Mode == models.AgentModeAssistant && o.remote != nil {
		loop := &hostedLoop{
			service:  o.remote,
			tools:    o.tools,
			runner:   o.runner,
			prompts:  o.prompts,
			threads:  o.stores.Threads,
			messages: o.stores.Messages,
			files:    o.stores.DataSources,
			memory:   mem,
			handler:  handler,
			logger:   o.logger,
		}
		return loop.Execute(ctx, rc, run, thread, userMsg)
	}

	loop := &localLoop{
		providers: o.providers,
		tools:     o.tools,
		runner:    o.runner,
		prompts:   o.prompts,
		memory:    mem,
		handler:   handler,
		logger:    o.logger,
	}
	return loop.Execute(ctx, rc, run)
}

// finalize applies the terminal status, merges scratch state into run
// metadata, emits the single terminal frame, and persists the run.
func (o *Orchestrator) finalize(ctx context.Context, rc *runctx.RunContext, run *models.Run, handler *Handler, dispatcher *dispatch.Dispatcher, loopErr error) {
	// Remote usage arrives only on the terminal event; fold it into the
	// last step so run usage stays the sum over steps.
	if remote := handler.RemoteUsage(); remote != (models.Usage{}) {
		if n := len(run.Steps); n > 0 {
			run.Steps[n-1].Usage.Add(remote)
		}
		run.Usage.Add(remote)
	}

	var detail string
	switch {
	case errors.Is(loopErr, ErrRunStopped):
		run.SetStatus(models.RunStatusCancelled)
		detail = "run cancelled"
	case errors.Is(loopErr, ErrMaxSteps):
		run.SetStatus(models.RunStatusCancelled)
		detail = "maximum step budget reached"
	case loopErr != nil:
		run.SetStatus(models.RunStatusFailed)
		rc.AppendError(loopErr.Error())
		detail = loopErr.Error()
		if o.logger != nil {
			o.logger.Error(ctx, "run failed", "error", loopErr)
		}
	default:
		switch run.Status {
		case models.RunStatusFailed:
			detail = "run failed"
			if failure := handler.Failure(); failure != nil {
				detail = failure.Message
				rc.AppendError(failure.Message)
			}
		case models.RunStatusCancelled:
			detail = "run cancelled"
		default:
			run.SetStatus(models.RunStatusCompleted)
		}
	}

	for _, msg := range rc.Errors() {
		run.AppendError(msg)
	}
	for key, val := range rc.RunMetadata() {
		run.SetMeta(key, val)
	}
	if buffered := rc.TakeBufferedToolCalls(); len(buffered) > 0 {
		patchStepToolCalls(run, buffered)
		run.SetMeta(models.RunMetaToolOutputs, buffered)
	}
	if log := handler.EventLog(); len(log) > 0 {
		run.SetMeta(models.RunMetaEvents, log)
	}

	if run.Status == models.RunStatusCompleted {
		if o.credits != nil {
			if cost := o.credits.Compute(rc.Agent.Model, run.Usage); cost > 0 {
				run.SetMeta(models.RunMetaCredits, cost)
			}
		}
		if err := dispatcher.Close(ctx); err != nil && o.logger != nil {
			o.logger.Warn(ctx, "failed to emit close frame", "error", err)
		}
	} else {
		if err := dispatcher.Error(ctx, detail); err != nil && o.logger != nil {
			o.logger.Warn(ctx, "failed to emit error frame", "error", err)
		}
	}

	if o.timeline != nil {
		o.timeline.Drain(run.ID)
	}
	if err := o.stores.Runs.Save(ctx, run); err != nil && o.logger != nil {
		o.logger.Error(ctx, "failed to persist run", "error", err)
	}
}

// patchStepToolCalls copies buffered outputs onto the run's step tool
// calls by id. Remote step listings never carry locally produced
// outputs, so the terminal run would otherwise report empty results.
func patchStepToolCalls(run *models.Run, enriched []models.ToolCall) {
	byID := make(map[string]models.ToolCall, len(enriched))
	for _, call := range enriched {
		byID[call.ID] = call
	}
	for si := range run.Steps {
		calls := run.Steps[si].StepDetails.ToolCalls
		for ti := range calls {
			source, ok := byID[calls[ti].ID]
			if !ok {
				continue
			}
			if calls[ti].OutputString == "" {
				calls[ti].OutputString = source.OutputString
			}
			if calls[ti].StructuredOutput == nil {
				calls[ti].StructuredOutput = source.StructuredOutput
			}
		}
	}
}

// userMessage builds the initiating user message. Image attachments are
// resolved against the data-source store so local vision requests can
// carry their URLs.
func (o *Orchestrator) userMessage(ctx context.Context, trigger Trigger, runID, threadID string) *models.Message {
	msg := &models.Message{
		ID:       "msg_" + uuid.NewString(),
		ThreadID: threadID,
		RunID:    runID,
		Role:     models.RoleUser,
		Content:  []models.ContentBlock{{Type: models.ContentText, Text: trigger.Message}},
		Metadata: models.MessageMetadata{
			Type:        models.MessageTypeMessage,
			Attachments: trigger.Attachments,
			CreatedAt:   nowUTC(),
		},
	}
	for _, att := range trigger.Attachments {
		block := models.ContentBlock{Type: models.ContentFile, FileID: att.FileID}
		if att.Kind == models.AttachmentImage {
			block.Type = models.ContentImageFile
		}
		if o.stores.DataSources != nil {
			if ds, _, err := o.stores.DataSources.Get(ctx, att.FileID); err == nil && ds != nil {
				block.URL = ds.URL
			}
		}
		msg.Content = append(msg.Content, block)
	}
	return msg
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
