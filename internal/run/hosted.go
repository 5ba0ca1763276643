package run

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/assistants"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/prompt"
	"github.com/loomworks/loom/internal/runctx"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/tools"
	"github.com/loomworks/loom/pkg/models"
)

// hostedLoop delegates a run to a remote assistant service. The local
// side mirrors the thread, answers requires_action cycles through the
// tool runner, and copies remote output messages (including generated
// images) back into local stores.
type hostedLoop struct {
	service  assistants.Service
	tools    *tools.Registry
	runner   *tools.Runner
	prompts  *prompt.Registry
	threads  store.ThreadStore
	messages store.MessageStore
	files    store.DataSourceStore
	memory   *memory.Memory
	handler  *Handler
	logger   *observability.Logger
}

// Execute mirrors the trigger into the remote thread, opens a remote
// run, and consumes its event stream to a terminal.
func (l *hostedLoop) Execute(ctx context.Context, rc *runctx.RunContext, run *models.Run, thread *models.Thread, userMsg *models.Message) error {
	external := thread.ExternalID
	if external == "" {
		created, err := l.service.CreateThread(ctx)
		if err != nil {
			return &RunError{Phase: "remote thread", Cause: err}
		}
		external = created
		thread.ExternalID = external
		if err := l.threads.Save(ctx, thread); err != nil {
			return &RunError{Phase: "remote thread", Cause: err}
		}
	}

	fileIDs, err := l.uploadAttachments(ctx, userMsg)
	if err != nil {
		return &RunError{Phase: "attachment upload", Cause: err}
	}
	if _, err := l.service.CreateMessage(ctx, external, userMsg.Text(), fileIDs); err != nil {
		return &RunError{Phase: "remote mirror", Cause: err}
	}

	assistantID, err := l.service.EnsureAssistant(ctx, &rc.Agent, toolDefinitions(l.tools, &rc.Agent))
	if err != nil {
		return &RunError{Phase: "assistant resolution", Cause: err}
	}

	instructions := rc.Agent.Instructions
	if l.prompts != nil {
		instructions = l.prompts.Instructions(&rc.Agent, rc.TenantID)
	}

	// The poller's sends select on this context, so cancelling on any
	// early return below releases its goroutine.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	events, err := l.service.StreamRun(streamCtx, assistants.RunRequest{
		ExternalThreadID: external,
		AssistantID:      assistantID,
		Model:            rc.Agent.Model,
		Instructions:     instructions,
	})
	if err != nil {
		return &RunError{Phase: "remote run", Cause: err}
	}

	var remoteRunID string
	stopIssued := false

	for ev := range events {
		if remoteRunID == "" && ev.RunID != "" && ev.RunID != run.ID {
			remoteRunID = ev.RunID
			run.ExternalID = remoteRunID
		}
		ev.RunID = run.ID
		if ev.Step != nil {
			ev.Step.RunID = run.ID
			ev.Step.ThreadID = run.ThreadID
		}

		if rc.Stopped() && !stopIssued && remoteRunID != "" {
			if err := l.service.Cancel(ctx, external, remoteRunID); err != nil {
				l.warn(ctx, "remote cancel failed", "remote_run_id", remoteRunID, "error", err)
			}
			stopIssued = true
		}

		switch ev.Type {
		case models.RunEventRequiresAction:
			if err := l.handler.Handle(ctx, &ev); err != nil {
				return &RunError{Phase: "action", Cause: err}
			}
			if stopIssued {
				continue
			}
			if err := l.serviceAction(ctx, rc, run, external, remoteRunID, ev.ToolCalls); err != nil {
				return err
			}

		case models.RunEventStepDone:
			var mirrored *models.Message
			if ev.Step != nil && ev.Step.Type == models.StepTypeMessageCreation && ev.Step.StepDetails.MessageID != "" {
				msg, err := l.mirrorMessage(ctx, external, ev.Step.StepDetails.MessageID, run)
				if err != nil {
					l.warn(ctx, "failed to mirror remote message", "message_id", ev.Step.StepDetails.MessageID, "error", err)
				} else {
					mirrored = msg
				}
			}
			if err := l.handler.Handle(ctx, &ev); err != nil {
				return &RunError{Phase: "step", Cause: err}
			}
			if mirrored != nil {
				if err := l.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventMessageDone, Message: mirrored}); err != nil {
					return &RunError{Phase: "step", Cause: err}
				}
			}

		default:
			if err := l.handler.Handle(ctx, &ev); err != nil {
				return &RunError{Phase: "remote event", Cause: err}
			}
		}
	}

	if stopIssued {
		return ErrRunStopped
	}
	return nil
}

// serviceAction runs one requires_action cycle: execute the submitted
// calls locally, buffer the enriched calls, and submit the string
// outputs back. Tool failures flow back as outputs, never as run
// failures.
func (l *hostedLoop) serviceAction(ctx context.Context, rc *runctx.RunContext, run *models.Run, external, remoteRunID string, calls []models.ToolCall) error {
	if rc.Stopped() {
		if err := l.service.Cancel(ctx, external, remoteRunID); err != nil {
			l.warn(ctx, "remote cancel failed", "remote_run_id", remoteRunID, "error", err)
		}
		return ErrRunStopped
	}

	rc.SetCurrentToolCalls(calls)
	results := l.runner.ExecuteAll(ctx, calls)

	enriched := make([]models.ToolCall, len(calls))
	outputs := make([]assistants.ToolOutput, len(calls))
	for i := range calls {
		enriched[i] = calls[i]
		enriched[i].OutputString = results[i].OutputString
		enriched[i].StructuredOutput = results[i].StructuredOutput
		outputs[i] = assistants.ToolOutput{
			ToolCallID: calls[i].ID,
			Output:     results[i].OutputString,
		}
	}
	rc.BufferToolCalls(enriched)

	if err := l.service.SubmitToolOutputs(ctx, external, remoteRunID, outputs); err != nil {
		return &RunError{Phase: "tool outputs", Cause: err}
	}
	run.SetStatus(models.RunStatusInProgress)
	return nil
}

// uploadAttachments pushes the trigger's file attachments to the remote
// service and returns the remote file ids in attachment order.
func (l *hostedLoop) uploadAttachments(ctx context.Context, msg *models.Message) ([]string, error) {
	var remote []string
	for _, att := range msg.Metadata.Attachments {
		ds, data, err := l.files.Get(ctx, att.FileID)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			l.warn(ctx, "attachment not found, skipping", "file_id", att.FileID)
			continue
		}
		remoteID, err := l.service.UploadFile(ctx, ds.Name, data)
		if err != nil {
			return nil, err
		}
		remote = append(remote, remoteID)
	}
	return remote, nil
}

// mirrorMessage copies one remote output message into the local domain.
// Image parts are downloaded into the data-source store so the file id
// resolves locally; the resulting URL is spliced into any earlier
// message that referenced the file.
func (l *hostedLoop) mirrorMessage(ctx context.Context, external, messageID string, run *models.Run) (*models.Message, error) {
	remote, err := l.service.RetrieveMessage(ctx, external, messageID)
	if err != nil {
		return nil, err
	}

	var blocks []models.ContentBlock
	hasImage := false
	for _, part := range remote.Parts {
		switch {
		case part.ImageFileID != "":
			hasImage = true
			block := models.ContentBlock{Type: models.ContentImageFile, FileID: part.ImageFileID}
			data, err := l.service.FileContent(ctx, part.ImageFileID)
			if err != nil {
				l.warn(ctx, "failed to download remote image", "file_id", part.ImageFileID, "error", err)
			} else if l.files != nil {
				ds, err := l.files.SaveFile(ctx, data, &models.DataSource{
					FileID:      part.ImageFileID,
					Name:        fmt.Sprintf("%s.png", part.ImageFileID),
					ContentType: "image/png",
				})
				if err != nil {
					l.warn(ctx, "failed to store remote image", "file_id", part.ImageFileID, "error", err)
				} else {
					block.URL = ds.URL
					if err := l.messages.UpdateToolCalls(ctx, run.ThreadID, ds.FileID, ds); err != nil {
						l.warn(ctx, "failed to splice image url", "file_id", ds.FileID, "error", err)
					}
				}
			}
			blocks = append(blocks, block)
		case part.Text != "":
			blocks = append(blocks, models.ContentBlock{Type: models.ContentText, Text: part.Text})
		}
	}

	role := models.RoleAssistant
	if remote.Role == string(models.RoleUser) {
		role = models.RoleUser
	}
	msgType := models.MessageTypeMessage
	if hasImage {
		msgType = models.MessageTypeImage
	}

	return &models.Message{
		ID:       remote.ID,
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Role:     role,
		Content:  blocks,
		Metadata: models.MessageMetadata{Type: msgType, CreatedAt: nowUTC()},
	}, nil
}

func (l *hostedLoop) warn(ctx context.Context, msg string, args ...any) {
	if l.logger != nil {
		l.logger.Warn(ctx, msg, args...)
	}
}
