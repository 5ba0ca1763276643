package llm

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomworks/loom/pkg/models"
)

func TestToOpenAIMessagesInjectsSystem(t *testing.T) {
	out := toOpenAIMessages([]Message{
		{Role: "user", Content: "hello"},
	}, "be terse")

	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be terse" {
		t.Errorf("unexpected system message: %+v", out[0])
	}
	if out[1].Role != "user" || out[1].Content != "hello" {
		t.Errorf("unexpected user message: %+v", out[1])
	}
}

func TestToOpenAIMessagesSplitsToolResults(t *testing.T) {
	out := toOpenAIMessages([]Message{
		{
			Role: "assistant",
			ToolCalls: []models.ToolCall{
				{ID: "tc1", Name: "lookup", Arguments: json.RawMessage(`{"q":"a"}`)},
				{ID: "tc2", Name: "lookup", Arguments: json.RawMessage(`{"q":"b"}`)},
			},
		},
		{
			Role: "tool",
			ToolResults: []models.ToolResult{
				{ToolCallID: "tc1", OutputString: "first"},
				{ToolCallID: "tc2", OutputString: "second"},
			},
		},
	}, "")

	if len(out) != 3 {
		t.Fatalf("expected assistant + 2 tool messages, got %d", len(out))
	}
	if len(out[0].ToolCalls) != 2 {
		t.Errorf("assistant message lost tool calls: %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleTool || out[1].ToolCallID != "tc1" || out[1].Content != "first" {
		t.Errorf("unexpected first tool message: %+v", out[1])
	}
	if out[2].ToolCallID != "tc2" {
		t.Errorf("unexpected second tool message: %+v", out[2])
	}
}

func TestToOpenAIMessagesVision(t *testing.T) {
	out := toOpenAIMessages([]Message{
		{Role: "user", Content: "what is this", ImageURLs: []string{"https://example.com/a.png"}},
	}, "")

	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if out[0].Content != "" || len(out[0].MultiContent) != 2 {
		t.Fatalf("expected multi-content message, got %+v", out[0])
	}
	if out[0].MultiContent[0].Type != openai.ChatMessagePartTypeText {
		t.Errorf("first part should be text: %+v", out[0].MultiContent[0])
	}
	if out[0].MultiContent[1].ImageURL == nil || out[0].MultiContent[1].ImageURL.URL != "https://example.com/a.png" {
		t.Errorf("unexpected image part: %+v", out[0].MultiContent[1])
	}
}

func TestToOpenAIToolsBadSchemaDegrades(t *testing.T) {
	out := toOpenAITools([]ToolDefinition{
		{Name: "good", Schema: json.RawMessage(`{"type":"object"}`)},
		{Name: "bad", Schema: json.RawMessage(`{not json`)},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(out))
	}
	params, ok := out[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("bad schema should degrade to empty object schema, got %v", out[1].Function.Parameters)
	}
}

func TestToOpenAIToolChoice(t *testing.T) {
	if v := toOpenAIToolChoice(""); v != nil {
		t.Errorf("empty choice should be nil, got %v", v)
	}
	if v := toOpenAIToolChoice("auto"); v != "auto" {
		t.Errorf("auto should pass through, got %v", v)
	}
	forced, ok := toOpenAIToolChoice("web_browser").(openai.ToolChoice)
	if !ok || forced.Function.Name != "web_browser" {
		t.Errorf("named choice should force the tool, got %v", forced)
	}
}

func TestToAnthropicMessages(t *testing.T) {
	out, err := toAnthropicMessages([]Message{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "tc1", OutputString: "found"},
		}},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// System dropped, tool-result message folded into a user message.
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[0].Role != "user" || out[1].Role != "assistant" || out[2].Role != "user" {
		t.Errorf("unexpected roles: %s %s %s", out[0].Role, out[1].Role, out[2].Role)
	}
}

func TestToAnthropicMessagesRejectsBadArguments(t *testing.T) {
	_, err := toAnthropicMessages([]Message{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "lookup", Arguments: json.RawMessage(`{broken`)},
		}},
	})
	if err == nil {
		t.Fatal("expected conversion error")
	}
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string            { return s.name }
func (s stubProvider) SupportsTools() bool     { return true }
func (s stubProvider) Models() []Model         { return nil }
func (s stubProvider) Complete(context.Context, *Request) (<-chan *Chunk, error) {
	return nil, nil
}

func TestRegistryForModel(t *testing.T) {
	reg := NewProviderRegistry("openai")
	reg.Register(stubProvider{"openai"})
	reg.Register(stubProvider{"anthropic"})

	cases := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "anthropic"},
		{"gpt-4o", "openai"},
		{"o3-mini", "openai"},
		{"some-local-model", "openai"}, // fallback
	}
	for _, tc := range cases {
		p, err := reg.ForModel(tc.model)
		if err != nil {
			t.Fatalf("%s: %v", tc.model, err)
		}
		if p.Name() != tc.want {
			t.Errorf("ForModel(%s) = %s, want %s", tc.model, p.Name(), tc.want)
		}
	}
}

func TestRegistryForModelMissingProvider(t *testing.T) {
	reg := NewProviderRegistry("openai")
	if _, err := reg.ForModel("gpt-4o"); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestRetryable(t *testing.T) {
	if retryable(nil) {
		t.Error("nil error is not retryable")
	}
	for _, msg := range []string{"rate limit exceeded", "status 429", "502 bad gateway", "request timeout"} {
		if !retryable(errInput(msg)) {
			t.Errorf("%q should be retryable", msg)
		}
	}
	if retryable(errInput("invalid api key")) {
		t.Error("auth errors are not retryable")
	}
}

type errInput string

func (e errInput) Error() string { return string(e) }
