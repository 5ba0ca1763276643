package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

// OpenAIProvider streams chat completions from the OpenAI API.
//
// Tool calls stream incrementally: the id and function name arrive in
// the first fragment, arguments arrive as JSON fragments across later
// chunks, keyed by index. The provider accumulates them and emits each
// tool call as one complete chunk when the stream finishes the calls.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// OpenAIOptions configures the provider.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewOpenAIProvider creates the provider. An empty API key is allowed;
// Complete fails until a key is configured.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	p := &OpenAIProvider{
		maxRetries: opts.MaxRetries,
		retryDelay: time.Second,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if opts.APIKey != "" {
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		p.client = openai.NewClientWithConfig(cfg)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []Model {
	return []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

// Complete starts a streaming completion. Transient failures (rate
// limits, 5xx, timeouts) are retried with linear backoff before the
// stream is handed to the reader goroutine.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if p.client == nil {
		return nil, errors.New("openai api key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		if choice := toOpenAIToolChoice(req.ToolChoice); choice != nil {
			chatReq.ToolChoice = choice
		}
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	start := time.Now()
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) {
			p.countRequest(req.Model, "error")
			return nil, fmt.Errorf("openai request failed: %w", lastErr)
		}
		if p.logger != nil {
			p.logger.Warn(ctx, "openai request failed, retrying",
				"attempt", attempt+1, "error", lastErr)
		}
	}
	if lastErr != nil {
		p.countRequest(req.Model, "error")
		return nil, fmt.Errorf("openai retries exhausted: %w", lastErr)
	}
	if p.metrics != nil {
		p.metrics.ProviderRequestDuration.WithLabelValues("openai", req.Model).Observe(time.Since(start).Seconds())
	}
	p.countRequest(req.Model, "success")

	chunks := make(chan *Chunk)
	go p.readStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) countRequest(model, status string) {
	if p.metrics != nil {
		p.metrics.ProviderRequests.WithLabelValues("openai", model, status).Inc()
	}
}

// readStream drains the SDK stream into chunks. Pending tool calls are
// flushed when the finish reason reports tool_calls, or at EOF as a
// fallback for servers that omit the finish reason.
func (p *OpenAIProvider) readStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	var order []int
	var usage *models.Usage

	flush := func() {
		for _, idx := range order {
			tc := pending[idx]
			if tc.ID != "" && tc.Name != "" {
				chunks <- &Chunk{ToolCall: tc}
			}
		}
		pending = make(map[int]*models.ToolCall)
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &Chunk{Usage: usage, Done: true}
				return
			}
			chunks <- &Chunk{Error: err, Done: true}
			return
		}

		if response.Usage != nil {
			usage = &models.Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{Type: models.ToolCallFunction}
				order = append(order, index)
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Arguments = append(pending[index].Arguments, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// toOpenAIMessages converts the neutral transcript to the OpenAI wire
// shape. The system prompt becomes the first message; each tool result
// becomes its own tool-role message linked by tool call id.
func toOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.OutputString,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, m)
		default:
			m := openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			}
			if len(msg.ImageURLs) > 0 {
				parts := make([]openai.ChatMessagePart, 0, len(msg.ImageURLs)+1)
				if msg.Content != "" {
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: msg.Content,
					})
				}
				for _, u := range msg.ImageURLs {
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    u,
							Detail: openai.ImageURLDetailAuto,
						},
					})
				}
				m.Content = ""
				m.MultiContent = parts
			}
			out = append(out, m)
		}
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			// A broken schema on one tool must not take out the rest.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// toOpenAIToolChoice maps the agent's tool_choice setting. "auto" and
// "none" pass through; any other value forces that named tool.
func toOpenAIToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	default:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice},
		}
	}
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
