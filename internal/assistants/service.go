// Package assistants binds the hosted-assistant execution flavor to a
// remote assistant service. The binding owns the remote protocol; runs
// surface through the same event taxonomy the local loop emits, so the
// orchestrator's handler never sees remote wire types.
package assistants

import (
	"context"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/pkg/models"
)

// Service is the remote assistant backend consumed by the hosted run
// flavor.
type Service interface {
	// EnsureAssistant resolves the remote assistant for an agent,
	// creating it on first use. Tool schemas are configured on the
	// assistant itself.
	EnsureAssistant(ctx context.Context, agent *models.AgentConfig, tools []llm.ToolDefinition) (string, error)

	// CreateThread creates a remote thread and returns its external id.
	CreateThread(ctx context.Context) (string, error)

	// CreateMessage mirrors a user message (plus uploaded file ids) into
	// the remote thread.
	CreateMessage(ctx context.Context, externalThreadID, text string, fileIDs []string) (string, error)

	// UploadFile pushes file bytes to the remote service and returns the
	// remote file id.
	UploadFile(ctx context.Context, name string, data []byte) (string, error)

	// FileContent downloads a remote file produced by the assistant.
	FileContent(ctx context.Context, fileID string) ([]byte, error)

	// StreamRun opens a remote run and normalizes its progress into run
	// events. The channel closes after the terminal event.
	StreamRun(ctx context.Context, req RunRequest) (<-chan models.RunEvent, error)

	// SubmitToolOutputs answers a requires_action cycle.
	SubmitToolOutputs(ctx context.Context, externalThreadID, remoteRunID string, outputs []ToolOutput) error

	// Cancel requests cancellation of an in-flight remote run.
	Cancel(ctx context.Context, externalThreadID, remoteRunID string) error

	// RetrieveMessage fetches one remote message's content parts.
	RetrieveMessage(ctx context.Context, externalThreadID, messageID string) (*RemoteMessage, error)
}

// RunRequest opens one remote run.
type RunRequest struct {
	ExternalThreadID string
	AssistantID      string
	// Model and Instructions, when set, override the assistant defaults
	// for this run.
	Model        string
	Instructions string
}

// ToolOutput is one answered tool call.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// RemoteMessage is the provider-neutral view of a remote thread message.
type RemoteMessage struct {
	ID    string
	Role  string
	Parts []ContentPart
}

// ContentPart is one ordered unit of remote message content. Exactly one
// field is set.
type ContentPart struct {
	Text        string
	ImageFileID string
}
