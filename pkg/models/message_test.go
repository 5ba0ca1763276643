package models

import (
	"encoding/json"
	"testing"
)

func TestMessageText_ConcatenatesTextBlocks(t *testing.T) {
	m := &Message{
		Content: []ContentBlock{
			{Type: ContentText, Text: "Hello, "},
			{Type: ContentImageFile, FileID: "file-1"},
			{Type: ContentText, Text: "world!"},
		},
	}
	if got := m.Text(); got != "Hello, world!" {
		t.Errorf("Text() = %q, want %q", got, "Hello, world!")
	}
}

func TestMessageHasImage(t *testing.T) {
	withImage := &Message{Content: []ContentBlock{
		{Type: ContentText, Text: "chart below"},
		{Type: ContentImageFile, FileID: "file-1"},
	}}
	if !withImage.HasImage() {
		t.Error("expected HasImage() = true")
	}

	textOnly := &Message{Content: []ContentBlock{{Type: ContentText, Text: "hi"}}}
	if textOnly.HasImage() {
		t.Error("expected HasImage() = false")
	}
}

func TestMessageClone_Isolation(t *testing.T) {
	m := &Message{
		ID:      "msg-1",
		Role:    RoleAssistant,
		Content: []ContentBlock{{Type: ContentText, Text: "original"}},
		Metadata: MessageMetadata{
			Type: MessageTypeToolCall,
			ToolCalls: []ToolCall{{
				ID:        "call-1",
				Name:      "web_browser",
				Arguments: json.RawMessage(`{"url":"https://example.com"}`),
			}},
		},
	}

	cp := m.Clone()
	cp.Content[0].Text = "mutated"
	cp.Metadata.ToolCalls[0].OutputString = "result"
	cp.Metadata.ToolCalls[0].Arguments[2] = 'X'

	if m.Content[0].Text != "original" {
		t.Errorf("content mutation leaked: %q", m.Content[0].Text)
	}
	if m.Metadata.ToolCalls[0].OutputString != "" {
		t.Error("tool call output mutation leaked into original")
	}
	if string(m.Metadata.ToolCalls[0].Arguments) != `{"url":"https://example.com"}` {
		t.Errorf("arguments mutation leaked: %s", m.Metadata.ToolCalls[0].Arguments)
	}
}
