package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageType classifies a message for subscribers.
type MessageType string

const (
	MessageTypeMessage  MessageType = "message"
	MessageTypeToolCall MessageType = "tool_call"
	MessageTypeImage    MessageType = "image"
)

// ContentBlockType discriminates the variants of a content block.
type ContentBlockType string

const (
	ContentText      ContentBlockType = "text"
	ContentImageFile ContentBlockType = "image_file"
	ContentFile      ContentBlockType = "file"
)

// ContentBlock is one ordered unit of message content. Text blocks carry
// Text; image_file and file blocks carry a FileID resolved against the
// data-source store, plus an optional resolved URL.
type ContentBlock struct {
	Type   ContentBlockType `json:"type"`
	Text   string           `json:"text,omitempty"`
	FileID string           `json:"file_id,omitempty"`
	URL    string           `json:"url,omitempty"`
}

// Message is one turn or tool event within a thread.
//
// The ID is stable across streaming delta updates and the final snapshot;
// subscribers merge deltas by ID. Within a thread, messages are totally
// ordered by Metadata.CreatedAt.
type Message struct {
	ID       string          `json:"id"`
	ThreadID string          `json:"thread_id"`
	RunID    string          `json:"run_id,omitempty"`
	Role     Role            `json:"role"`
	Content  []ContentBlock  `json:"content"`
	Metadata MessageMetadata `json:"metadata"`
}

// MessageMetadata carries everything about a message that is not content.
// A message whose ToolCalls is non-empty has Role == RoleAssistant.
type MessageMetadata struct {
	Type        MessageType  `json:"type"`
	Streaming   bool         `json:"streaming,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Text returns the concatenated text blocks of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == ContentText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// HasImage reports whether any content block references an image file.
func (m *Message) HasImage() bool {
	for _, c := range m.Content {
		if c.Type == ContentImageFile {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Content = append([]ContentBlock(nil), m.Content...)
	cp.Metadata.ToolCalls = cloneToolCalls(m.Metadata.ToolCalls)
	cp.Metadata.Attachments = append([]Attachment(nil), m.Metadata.Attachments...)
	return &cp
}

// NewTextMessage builds a plain text message with a fresh created timestamp.
func NewTextMessage(id, threadID, runID string, role Role, text string) *Message {
	return &Message{
		ID:       id,
		ThreadID: threadID,
		RunID:    runID,
		Role:     role,
		Content:  []ContentBlock{{Type: ContentText, Text: text}},
		Metadata: MessageMetadata{Type: MessageTypeMessage, CreatedAt: time.Now().UTC()},
	}
}

// AttachmentKind distinguishes image attachments from generic files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a reference-only file handle. Bytes are never inlined; the
// FileID resolves against the data-source store on demand.
type Attachment struct {
	FileID string         `json:"file_id"`
	Kind   AttachmentKind `json:"kind"`
}

// ToolCallType mirrors the tool classes a model can request.
type ToolCallType string

const (
	ToolCallFunction        ToolCallType = "function"
	ToolCallCodeInterpreter ToolCallType = "code_interpreter"
	ToolCallFileSearch      ToolCallType = "file_search"
)

// ToolCall is a model-requested invocation of a named tool. OutputString and
// StructuredOutput are set exactly once, after the tool runs.
type ToolCall struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	Type             ToolCallType    `json:"type"`
	OutputString     string          `json:"output,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		out[i].Arguments = append(json.RawMessage(nil), calls[i].Arguments...)
		out[i].StructuredOutput = append(json.RawMessage(nil), calls[i].StructuredOutput...)
	}
	return out
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID       string          `json:"tool_call_id"`
	OutputString     string          `json:"output"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
	IsError          bool            `json:"is_error,omitempty"`
	IsPrivate        bool            `json:"is_private,omitempty"`
	EndTurn          bool            `json:"end_turn,omitempty"`
}
