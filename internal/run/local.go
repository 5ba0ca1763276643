package run

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/prompt"
	"github.com/loomworks/loom/internal/runctx"
	"github.com/loomworks/loom/internal/tools"
	"github.com/loomworks/loom/pkg/models"
)

// Step budget bounds for the local loop. Agents may configure their own
// budget; zero means the default and anything above the ceiling is
// clamped.
const (
	DefaultMaxSteps = 10
	MaxStepsCeiling = 20
)

// localLoop drives one run against a chat-completions provider: request,
// stream, then either a tool phase or a terminal message phase, until a
// sentinel, a final message, or the step budget ends the run.
type localLoop struct {
	providers *llm.Registry
	tools     *tools.Registry
	runner    *tools.Runner
	prompts   *prompt.Registry
	memory    *memory.Memory
	handler   *Handler
	logger    *observability.Logger
}

// Execute runs the step loop to a terminal. A nil return means the run
// completed; sentinel errors map to cancelled and everything else to
// failed.
func (l *localLoop) Execute(ctx context.Context, rc *runctx.RunContext, run *models.Run) error {
	system := rc.Agent.Instructions
	if l.prompts != nil {
		system = l.prompts.Instructions(&rc.Agent, rc.TenantID)
	}
	defs := toolDefinitions(l.tools, &rc.Agent)
	budget := stepBudget(rc.Agent.MaxSteps)

	for step := 0; step < budget; step++ {
		if rc.Stopped() {
			return ErrRunStopped
		}

		provider, err := l.providers.ForModel(rc.Agent.Model)
		if err != nil {
			return &RunError{Phase: "provider resolution", Step: step, Cause: err}
		}

		req := &llm.Request{
			Model:       rc.Agent.Model,
			System:      system,
			Messages:    transcript(l.memory),
			Tools:       defs,
			ToolChoice:  rc.Agent.ToolChoice,
			Temperature: rc.Agent.Temperature,
		}

		streamCtx, cancelStream := context.WithCancel(ctx)
		stream, err := provider.Complete(streamCtx, req)
		if err != nil {
			cancelStream()
			return &RunError{Phase: "model request", Step: step, Cause: err}
		}

		var (
			created   = time.Now().UTC()
			stepID    = fmt.Sprintf("%s:step:%d", run.ID, step)
			msgID     = fmt.Sprintf("%s:msg:%d", run.ID, step)
			text      strings.Builder
			calls     []models.ToolCall
			usage     models.Usage
			streamErr error
		)
		fail := func(cause error) {
			if streamErr == nil {
				streamErr = &RunError{Phase: "streaming", Step: step, Cause: cause}
				cancelStream()
			}
		}

		// The provider goroutine blocks on its next send until the
		// channel is consumed to the close, so a failed chunk switches
		// the loop into drain mode instead of returning early.
		for chunk := range stream {
			if streamErr != nil {
				continue
			}
			if chunk.Error != nil {
				fail(chunk.Error)
				continue
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
				if err := l.handler.Handle(ctx, &models.RunEvent{
					Type:      models.RunEventStepDelta,
					StepIndex: step,
					Step:      partialStep(stepID, run, calls, created),
				}); err != nil {
					fail(err)
					continue
				}
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				if err := l.handler.Handle(ctx, &models.RunEvent{
					Type:      models.RunEventMessageDelta,
					StepIndex: step,
					Message:   textMessage(msgID, run, text.String(), created, true),
				}); err != nil {
					fail(err)
					continue
				}
			}
		}
		cancelStream()
		if streamErr != nil {
			return streamErr
		}

		if len(calls) > 0 {
			done, err := l.toolPhase(ctx, rc, run, step, stepID, msgID, created, text.String(), calls, usage)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}

		return l.messagePhase(ctx, run, step, stepID, msgID, created, text.String(), usage)
	}

	return ErrMaxSteps
}

// toolPhase executes the step's tool calls, patches the calls with their
// outputs, and appends the assistant carrier message so the next request
// sees the results. A sentinel outcome completes the run.
func (l *localLoop) toolPhase(ctx context.Context, rc *runctx.RunContext, run *models.Run, step int, stepID, msgID string, created time.Time, text string, calls []models.ToolCall, usage models.Usage) (bool, error) {
	if rc.Stopped() {
		return false, ErrRunStopped
	}
	rc.SetCurrentToolCalls(calls)

	results := l.runner.ExecuteAll(ctx, calls)
	endTurn := false
	for i := range calls {
		calls[i].OutputString = results[i].OutputString
		calls[i].StructuredOutput = results[i].StructuredOutput
		if results[i].EndTurn {
			endTurn = true
		}
	}

	doneStep := &models.RunStep{
		ID:       stepID,
		RunID:    run.ID,
		ThreadID: run.ThreadID,
		Type:     models.StepTypeToolCalls,
		Status:   models.StepStatusCompleted,
		StepDetails: models.StepDetails{
			Type:      models.StepTypeToolCalls,
			ToolCalls: calls,
		},
		Usage:       usage,
		CreatedAt:   created,
		CompletedAt: time.Now().UTC(),
	}
	if err := l.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventStepDone, StepIndex: step, Step: doneStep}); err != nil {
		return false, &RunError{Phase: "tool phase", Step: step, Cause: err}
	}

	carrier := &models.Message{
		ID:       msgID,
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Role:     models.RoleAssistant,
		Metadata: models.MessageMetadata{
			Type:      models.MessageTypeToolCall,
			ToolCalls: calls,
			CreatedAt: created,
		},
	}
	if text != "" {
		carrier.Content = []models.ContentBlock{{Type: models.ContentText, Text: text}}
	}
	if err := l.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventMessageDone, StepIndex: step, Message: carrier}); err != nil {
		return false, &RunError{Phase: "tool phase", Step: step, Cause: err}
	}

	if endTurn {
		return true, l.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventCompleted, StepIndex: step})
	}
	return false, nil
}

// messagePhase finalizes the assistant's answer and completes the run.
func (l *localLoop) messagePhase(ctx context.Context, run *models.Run, step int, stepID, msgID string, created time.Time, text string, usage models.Usage) error {
	doneStep := &models.RunStep{
		ID:       stepID,
		RunID:    run.ID,
		ThreadID: run.ThreadID,
		Type:     models.StepTypeMessageCreation,
		Status:   models.StepStatusCompleted,
		StepDetails: models.StepDetails{
			Type:      models.StepTypeMessageCreation,
			MessageID: msgID,
		},
		Usage:       usage,
		CreatedAt:   created,
		CompletedAt: time.Now().UTC(),
	}
	if err := l.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventStepDone, StepIndex: step, Step: doneStep}); err != nil {
		return &RunError{Phase: "message phase", Step: step, Cause: err}
	}
	if err := l.handler.Handle(ctx, &models.RunEvent{
		Type:      models.RunEventMessageDone,
		StepIndex: step,
		Message:   textMessage(msgID, run, text, created, false),
	}); err != nil {
		return &RunError{Phase: "message phase", Step: step, Cause: err}
	}
	return l.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventCompleted, StepIndex: step})
}

// stepBudget resolves the agent's step budget. Zero means the default;
// values above the ceiling are clamped. Small explicit budgets are
// honored so callers can force single-step runs.
func stepBudget(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxSteps
	case n > MaxStepsCeiling:
		return MaxStepsCeiling
	}
	return n
}

// toolDefinitions advertises the agent's active tool set to the model.
func toolDefinitions(reg *tools.Registry, agent *models.AgentConfig) []llm.ToolDefinition {
	if reg == nil {
		return nil
	}
	active := reg.ForAgent(agent)
	defs := make([]llm.ToolDefinition, 0, len(active))
	for _, tool := range active {
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return defs
}

// transcript converts the buffered thread into provider-neutral
// messages. Assistant messages carrying tool calls expand into the call
// message plus a tool message with the patched outputs, which is how
// every provider expects results to be fed back.
func transcript(mem *memory.Memory) []llm.Message {
	buffered := mem.List("")
	out := make([]llm.Message, 0, len(buffered))
	for _, msg := range buffered {
		switch msg.Role {
		case models.RoleAssistant:
			entry := llm.Message{Role: "assistant", Content: msg.Text()}
			if len(msg.Metadata.ToolCalls) > 0 {
				entry.ToolCalls = msg.Metadata.ToolCalls
				out = append(out, entry)
				out = append(out, llm.Message{Role: "tool", ToolResults: toolResults(msg.Metadata.ToolCalls)})
				continue
			}
			out = append(out, entry)
		case models.RoleSystem:
			out = append(out, llm.Message{Role: "system", Content: msg.Text()})
		case models.RoleTool:
			// Tool outcomes travel on their assistant carrier message.
		default:
			out = append(out, llm.Message{
				Role:      "user",
				Content:   msg.Text(),
				ImageURLs: imageURLs(msg),
			})
		}
	}
	return out
}

func toolResults(calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, models.ToolResult{
			ToolCallID:       call.ID,
			OutputString:     call.OutputString,
			StructuredOutput: call.StructuredOutput,
		})
	}
	return results
}

func imageURLs(msg *models.Message) []string {
	var urls []string
	for _, block := range msg.Content {
		if block.Type == models.ContentImageFile && block.URL != "" {
			urls = append(urls, block.URL)
		}
	}
	return urls
}

func partialStep(stepID string, run *models.Run, calls []models.ToolCall, created time.Time) *models.RunStep {
	snapshot := make([]models.ToolCall, len(calls))
	copy(snapshot, calls)
	return &models.RunStep{
		ID:       stepID,
		RunID:    run.ID,
		ThreadID: run.ThreadID,
		Type:     models.StepTypeToolCalls,
		Status:   models.StepStatusInProgress,
		StepDetails: models.StepDetails{
			Type:      models.StepTypeToolCalls,
			ToolCalls: snapshot,
		},
		CreatedAt: created,
	}
}

func textMessage(id string, run *models.Run, text string, created time.Time, streaming bool) *models.Message {
	return &models.Message{
		ID:       id,
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Role:     models.RoleAssistant,
		Content:  []models.ContentBlock{{Type: models.ContentText, Text: text}},
		Metadata: models.MessageMetadata{
			Type:      models.MessageTypeMessage,
			Streaming: streaming,
			CreatedAt: created,
		},
	}
}
