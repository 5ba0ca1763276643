// Package llm abstracts the chat-completions providers behind one
// streaming interface. Providers convert the service's message shapes to
// their wire format, stream text deltas back as they arrive, and emit
// complete tool calls once all argument fragments have been assembled.
package llm

import (
	"context"
	"encoding/json"

	"github.com/loomworks/loom/pkg/models"
)

// Provider is a chat-completions backend.
//
// Implementations must be safe for concurrent use; each Complete call
// owns an independent stream and goroutine.
type Provider interface {
	// Complete sends a request and returns a streaming response channel.
	// The channel is closed after the final chunk. Errors that occur
	// mid-stream arrive as chunks with Error set.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name returns the stable lowercase provider identifier.
	Name() string

	// Models returns the models this provider serves.
	Models() []Model

	// SupportsTools reports whether the provider supports tool calling.
	SupportsTools() bool
}

// Request carries one completion turn: the rendered instructions, the
// thread transcript, and the advertised tool schemas.
type Request struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
}

// Message is one transcript entry in provider-neutral form. Role is one
// of user, assistant, or tool.
type Message struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	ImageURLs   []string            `json:"image_urls,omitempty"`
}

// ToolDefinition advertises one callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Chunk is one unit of a streaming response. Text deltas arrive as they
// are generated; tool calls arrive complete, after their argument
// fragments have been accumulated; Usage is populated on the final
// chunk when the provider reports token counts.
type Chunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Usage    *models.Usage    `json:"usage,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`
}

// Model describes one servable model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}
