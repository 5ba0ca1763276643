package assistants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

const (
	// DefaultPollInterval is the delay between remote status checks.
	DefaultPollInterval = 800 * time.Millisecond
	// DefaultRunTimeout bounds how long a remote run may stay
	// non-terminal before the binding gives up and cancels it.
	DefaultRunTimeout = 10 * time.Minute
)

// OpenAIService drives the OpenAI Assistants API by polling. The API has
// no tool-call streaming channel, so the binding checks run status every
// poll interval, lists new run steps as they appear, and surfaces
// requires_action cycles as events carrying the submitted tool calls.
type OpenAIService struct {
	client       *openai.Client
	pollInterval time.Duration
	runTimeout   time.Duration
	logger       *observability.Logger
}

// OpenAIOptions configures the binding.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	RunTimeout   time.Duration
	Logger       *observability.Logger
}

// NewOpenAIService creates the binding with defaults applied.
func NewOpenAIService(opts OpenAIOptions) *OpenAIService {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	s := &OpenAIService{
		client:       openai.NewClientWithConfig(cfg),
		pollInterval: opts.PollInterval,
		runTimeout:   opts.RunTimeout,
		logger:       opts.Logger,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.runTimeout <= 0 {
		s.runTimeout = DefaultRunTimeout
	}
	return s
}

// EnsureAssistant creates a remote assistant configured with the agent's
// instructions, model, and tool schemas. The assistant id is returned
// for the caller to persist; subsequent runs reuse it.
func (s *OpenAIService) EnsureAssistant(ctx context.Context, agent *models.AgentConfig, tools []llm.ToolDefinition) (string, error) {
	assistantTools := make([]openai.AssistantTool, 0, len(tools)+2)
	for _, tool := range tools {
		var params map[string]any
		if err := json.Unmarshal(tool.Schema, &params); err != nil {
			return "", fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		assistantTools = append(assistantTools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	if agent.HasToolkit("code_interpreter") {
		assistantTools = append(assistantTools, openai.AssistantTool{
			Type: openai.AssistantToolTypeCodeInterpreter,
		})
	}
	if agent.VectorStoreID != "" {
		assistantTools = append(assistantTools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFileSearch,
		})
	}

	req := openai.AssistantRequest{
		Model:        agent.Model,
		Name:         &agent.Name,
		Instructions: &agent.Instructions,
		Tools:        assistantTools,
	}
	assistant, err := s.client.CreateAssistant(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create assistant: %w", err)
	}
	return assistant.ID, nil
}

func (s *OpenAIService) CreateThread(ctx context.Context) (string, error) {
	thread, err := s.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to create remote thread: %w", err)
	}
	return thread.ID, nil
}

func (s *OpenAIService) CreateMessage(ctx context.Context, externalThreadID, text string, fileIDs []string) (string, error) {
	req := openai.MessageRequest{
		Role:    "user",
		Content: text,
	}
	for _, id := range fileIDs {
		req.Attachments = append(req.Attachments, openai.ThreadAttachment{
			FileID: id,
			Tools: []openai.ThreadAttachmentTool{
				{Type: string(openai.AssistantToolTypeCodeInterpreter)},
			},
		})
	}
	msg, err := s.client.CreateMessage(ctx, externalThreadID, req)
	if err != nil {
		return "", fmt.Errorf("failed to create remote message: %w", err)
	}
	return msg.ID, nil
}

func (s *OpenAIService) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := s.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file %s: %w", name, err)
	}
	return file.ID, nil
}

func (s *OpenAIService) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	raw, err := s.client.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file %s: %w", fileID, err)
	}
	defer raw.Close()
	data, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	return data, nil
}

func (s *OpenAIService) SubmitToolOutputs(ctx context.Context, externalThreadID, remoteRunID string, outputs []ToolOutput) error {
	req := openai.SubmitToolOutputsRequest{
		ToolOutputs: make([]openai.ToolOutput, len(outputs)),
	}
	for i, out := range outputs {
		req.ToolOutputs[i] = openai.ToolOutput{
			ToolCallID: out.ToolCallID,
			Output:     out.Output,
		}
	}
	if _, err := s.client.SubmitToolOutputs(ctx, externalThreadID, remoteRunID, req); err != nil {
		return fmt.Errorf("failed to submit tool outputs: %w", err)
	}
	return nil
}

func (s *OpenAIService) Cancel(ctx context.Context, externalThreadID, remoteRunID string) error {
	if _, err := s.client.CancelRun(ctx, externalThreadID, remoteRunID); err != nil {
		return fmt.Errorf("failed to cancel remote run: %w", err)
	}
	return nil
}

func (s *OpenAIService) RetrieveMessage(ctx context.Context, externalThreadID, messageID string) (*RemoteMessage, error) {
	msg, err := s.client.RetrieveMessage(ctx, externalThreadID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve remote message: %w", err)
	}
	out := &RemoteMessage{ID: msg.ID, Role: msg.Role}
	for _, content := range msg.Content {
		switch {
		case content.Text != nil:
			out.Parts = append(out.Parts, ContentPart{Text: content.Text.Value})
		case content.ImageFile != nil:
			out.Parts = append(out.Parts, ContentPart{ImageFileID: content.ImageFile.FileID})
		}
	}
	return out, nil
}

// StreamRun opens the remote run and polls it to a terminal state. The
// returned channel observes, in order: new run steps as step deltas,
// each requires_action cycle exactly once (keyed by the pending tool
// call ids), completed message-creation steps as step.done, and one
// terminal event carrying merged usage or the remote failure.
func (s *OpenAIService) StreamRun(ctx context.Context, req RunRequest) (<-chan models.RunEvent, error) {
	runReq := openai.RunRequest{
		AssistantID:  req.AssistantID,
		Model:        req.Model,
		Instructions: req.Instructions,
	}
	remoteRun, err := s.client.CreateRun(ctx, req.ExternalThreadID, runReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote run: %w", err)
	}

	events := make(chan models.RunEvent)
	go s.poll(ctx, req.ExternalThreadID, remoteRun.ID, events)
	return events, nil
}

// pollState carries the dedup bookkeeping across poll iterations.
type pollState struct {
	sequence   uint64
	seenSteps  map[string]bool
	doneSteps  map[string]bool
	lastAction string
	stepIndex  int
}

func (s *OpenAIService) poll(ctx context.Context, threadID, runID string, events chan<- models.RunEvent) {
	defer close(events)

	state := &pollState{
		seenSteps: make(map[string]bool),
		doneSteps: make(map[string]bool),
	}
	emit := func(ev models.RunEvent) bool {
		state.sequence++
		ev.Version = 1
		ev.Sequence = state.sequence
		ev.Time = time.Now().UTC()
		ev.RunID = runID
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(models.RunEvent{Type: models.RunEventStarted}) {
		return
	}

	deadline := time.Now().Add(s.runTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancelQuietly(threadID, runID)
			emit(models.RunEvent{
				Type:  models.RunEventCancelled,
				Error: &models.RunEventError{Message: ctx.Err().Error(), Err: ctx.Err()},
			})
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			s.cancelQuietly(threadID, runID)
			err := fmt.Errorf("remote run did not finish within %v", s.runTimeout)
			emit(models.RunEvent{
				Type:  models.RunEventFailed,
				Error: &models.RunEventError{Message: err.Error(), Code: "timeout", Err: err},
			})
			return
		}

		remoteRun, err := s.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			emit(models.RunEvent{
				Type:  models.RunEventFailed,
				Error: &models.RunEventError{Message: err.Error(), Err: err},
			})
			return
		}

		if !s.emitNewSteps(ctx, threadID, runID, state, emit) {
			return
		}

		switch remoteRun.Status {
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			continue

		case openai.RunStatusRequiresAction:
			calls := requiredToolCalls(remoteRun)
			key := actionKey(calls)
			if key == state.lastAction {
				continue
			}
			state.lastAction = key
			if !emit(models.RunEvent{
				Type:      models.RunEventRequiresAction,
				ToolCalls: calls,
				StepIndex: state.stepIndex,
			}) {
				return
			}

		case openai.RunStatusCompleted:
			emit(models.RunEvent{
				Type:  models.RunEventCompleted,
				Usage: runUsage(remoteRun),
			})
			return

		case openai.RunStatusFailed:
			msg := "remote run failed"
			code := ""
			if remoteRun.LastError != nil {
				msg = remoteRun.LastError.Message
				code = string(remoteRun.LastError.Code)
			}
			emit(models.RunEvent{
				Type:  models.RunEventFailed,
				Usage: runUsage(remoteRun),
				Error: &models.RunEventError{Message: msg, Code: code},
			})
			return

		case openai.RunStatusCancelled, openai.RunStatusExpired:
			emit(models.RunEvent{
				Type:  models.RunEventCancelled,
				Usage: runUsage(remoteRun),
			})
			return
		}
	}
}

// emitNewSteps lists remote run steps and emits a delta for each newly
// observed step and a done event for each newly completed one. Steps
// arrive newest-first from the API; they are walked in reverse to keep
// emission in creation order.
func (s *OpenAIService) emitNewSteps(ctx context.Context, threadID, runID string, state *pollState, emit func(models.RunEvent) bool) bool {
	list, err := s.client.ListRunSteps(ctx, threadID, runID, openai.Pagination{})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "failed to list remote run steps", "error", err)
		}
		return true
	}

	steps := list.RunSteps
	for i := len(steps) - 1; i >= 0; i-- {
		remote := steps[i]
		if !state.seenSteps[remote.ID] {
			state.seenSteps[remote.ID] = true
			state.stepIndex = len(state.seenSteps) - 1
			if !emit(models.RunEvent{
				Type:      models.RunEventStepDelta,
				Step:      convertStep(runID, threadID, remote),
				StepIndex: state.stepIndex,
			}) {
				return false
			}
		}
		if remote.Status == openai.RunStepStatusCompleted && !state.doneSteps[remote.ID] {
			state.doneSteps[remote.ID] = true
			if !emit(models.RunEvent{
				Type:      models.RunEventStepDone,
				Step:      convertStep(runID, threadID, remote),
				StepIndex: state.stepIndex,
			}) {
				return false
			}
		}
	}
	return true
}

func (s *OpenAIService) cancelQuietly(threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.client.CancelRun(ctx, threadID, runID); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "failed to cancel remote run", "remote_run_id", runID, "error", err)
	}
}

func requiredToolCalls(run openai.Run) []models.ToolCall {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return nil
	}
	remote := run.RequiredAction.SubmitToolOutputs.ToolCalls
	calls := make([]models.ToolCall, 0, len(remote))
	for _, tc := range remote {
		calls = append(calls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
			Type:      models.ToolCallFunction,
		})
	}
	return calls
}

func actionKey(calls []models.ToolCall) string {
	key := ""
	for _, c := range calls {
		key += c.ID + "|"
	}
	return key
}

func runUsage(run openai.Run) *models.Usage {
	return &models.Usage{
		PromptTokens:     run.Usage.PromptTokens,
		CompletionTokens: run.Usage.CompletionTokens,
		TotalTokens:      run.Usage.TotalTokens,
	}
}

func convertStep(runID, threadID string, remote openai.RunStep) *models.RunStep {
	step := &models.RunStep{
		ID:          remote.ID,
		RunID:       runID,
		ThreadID:    threadID,
		AssistantID: remote.AssistantID,
		Status:      convertStepStatus(remote.Status),
		CreatedAt:   time.Unix(remote.CreatedAt, 0).UTC(),
	}
	if remote.CompletedAt != nil {
		step.CompletedAt = time.Unix(*remote.CompletedAt, 0).UTC()
	}

	switch remote.Type {
	case openai.RunStepTypeMessageCreation:
		step.Type = models.StepTypeMessageCreation
		step.StepDetails.Type = models.StepTypeMessageCreation
		if remote.StepDetails.MessageCreation != nil {
			step.StepDetails.MessageID = remote.StepDetails.MessageCreation.MessageID
		}
	case openai.RunStepTypeToolCalls:
		step.Type = models.StepTypeToolCalls
		step.StepDetails.Type = models.StepTypeToolCalls
		for _, tc := range remote.StepDetails.ToolCalls {
			call := models.ToolCall{ID: tc.ID}
			switch string(tc.Type) {
			case "function":
				call.Type = models.ToolCallFunction
				call.Name = tc.Function.Name
				call.Arguments = json.RawMessage(tc.Function.Arguments)
			case "code_interpreter":
				call.Type = models.ToolCallCodeInterpreter
				call.Name = "code_interpreter"
			default:
				call.Type = models.ToolCallFileSearch
				call.Name = string(tc.Type)
			}
			step.StepDetails.ToolCalls = append(step.StepDetails.ToolCalls, call)
		}
	}
	return step
}

func convertStepStatus(status openai.RunStepStatus) models.StepStatus {
	switch status {
	case openai.RunStepStatusCompleted:
		return models.StepStatusCompleted
	case openai.RunStepStatusFailed:
		return models.StepStatusFailed
	case openai.RunStepStatusCancelling:
		return models.StepStatusCancelled
	default:
		return models.StepStatusInProgress
	}
}
