package run

import (
	"context"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/conn"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/runctx"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/models"
)

type handlerEnv struct {
	run     *models.Run
	rc      *runctx.RunContext
	mem     *memory.Memory
	rec     *conn.Recorder
	handler *Handler
	msgs    store.MessageStore
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	run := &models.Run{ID: "run-1", ThreadID: "thread-1", Status: models.RunStatusStarted}
	rc := runctx.New("chan-1", "run-1", "thread-1", "", models.AgentConfig{ID: "agent-1"})

	msgs := store.NewMemoryMessageStore()
	mem := memory.New("thread-1", msgs)

	manager := conn.NewChannelManager(nil)
	rec := conn.NewRecorder()
	manager.Connect("chan-1", rec)
	dispatcher := dispatch.New(manager, "chan-1", "run-1", "thread-1", nil, nil)

	return &handlerEnv{
		run:     run,
		rc:      rc,
		mem:     mem,
		rec:     rec,
		handler: NewHandler(run, rc, mem, dispatcher, nil, nil),
		msgs:    msgs,
	}
}

func textEvent(eventType models.RunEventType, id, text string, streaming bool) *models.RunEvent {
	return &models.RunEvent{
		Type: eventType,
		Message: &models.Message{
			ID:       id,
			ThreadID: "thread-1",
			RunID:    "run-1",
			Role:     models.RoleAssistant,
			Content:  []models.ContentBlock{{Type: models.ContentText, Text: text}},
			Metadata: models.MessageMetadata{
				Type:      models.MessageTypeMessage,
				Streaming: streaming,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestHandlerMessageDeltaPatchFlags(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	env.handler.Handle(ctx, textEvent(models.RunEventMessageDelta, "m1", "He", true))
	env.handler.Handle(ctx, textEvent(models.RunEventMessageDelta, "m1", "Hello", true))
	env.handler.Handle(ctx, textEvent(models.RunEventMessageDone, "m1", "Hello.", false))

	frames := env.rec.Frames()
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Patch || !frames[0].Streaming {
		t.Errorf("first delta: %+v", frames[0])
	}
	if !frames[1].Patch || !frames[1].Streaming {
		t.Errorf("second delta: %+v", frames[1])
	}
	if !frames[2].Patch || frames[2].Streaming {
		t.Errorf("final frame: %+v", frames[2])
	}

	// Only the final snapshot persists, idempotently by id.
	saved, err := env.msgs.List(context.Background(), "thread-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].Text() != "Hello." {
		t.Errorf("persisted: %+v", saved)
	}
	if got := env.rc.Messages(); len(got) != 1 || got[0] != "m1" {
		t.Errorf("recorded ids: %v", got)
	}
}

func TestHandlerStepDoneFoldsUsage(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	step := func(id string, usage models.Usage) *models.RunEvent {
		return &models.RunEvent{
			Type: models.RunEventStepDone,
			Step: &models.RunStep{
				ID:       id,
				RunID:    "run-1",
				ThreadID: "thread-1",
				Type:     models.StepTypeToolCalls,
				Status:   models.StepStatusCompleted,
				Usage:    usage,
			},
		}
	}
	env.handler.Handle(ctx, step("s1", models.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}))
	env.handler.Handle(ctx, step("s2", models.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}))

	if len(env.run.Steps) != 2 {
		t.Fatalf("steps = %d", len(env.run.Steps))
	}
	want := models.Usage{PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33}
	if env.run.Usage != want {
		t.Errorf("usage = %+v", env.run.Usage)
	}
}

func TestHandlerTerminalEvents(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	env.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventStarted})
	if env.run.Status != models.RunStatusInProgress {
		t.Fatalf("status = %s", env.run.Status)
	}

	env.handler.Handle(ctx, &models.RunEvent{
		Type:  models.RunEventFailed,
		Error: &models.RunEventError{Message: "remote exploded", Code: "server_error"},
		Usage: &models.Usage{TotalTokens: 5},
	})
	if env.run.Status != models.RunStatusFailed {
		t.Errorf("status = %s", env.run.Status)
	}
	if failure := env.handler.Failure(); failure == nil || failure.Message != "remote exploded" {
		t.Errorf("failure = %+v", failure)
	}
	if env.handler.RemoteUsage().TotalTokens != 5 {
		t.Errorf("remote usage = %+v", env.handler.RemoteUsage())
	}

	// Terminal statuses are sinks.
	env.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventCompleted})
	if env.run.Status != models.RunStatusFailed {
		t.Errorf("terminal status changed to %s", env.run.Status)
	}
}

func TestHandlerRequiresActionEmitsActionFrame(t *testing.T) {
	env := newHandlerEnv(t)

	env.handler.Handle(context.Background(), &models.RunEvent{
		Type:      models.RunEventRequiresAction,
		ToolCalls: []models.ToolCall{{ID: "tc1", Name: "lookup", Type: models.ToolCallFunction}},
	})

	if env.run.Status != models.RunStatusRequiresAction {
		t.Errorf("status = %s", env.run.Status)
	}
	frame := env.rec.Last()
	if frame == nil || frame.MessageType != models.FrameAction {
		t.Fatalf("frame = %+v", frame)
	}
	if len(frame.Message.Metadata.ToolCalls) != 1 {
		t.Errorf("frame calls = %+v", frame.Message.Metadata.ToolCalls)
	}
}

func TestHandlerSequencesAreMonotonic(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	// Events arriving with their own sequence numbers are renumbered.
	env.handler.Handle(ctx, &models.RunEvent{Type: models.RunEventStarted, Sequence: 99})
	env.handler.Handle(ctx, textEvent(models.RunEventMessageDone, "m1", "hi", false))

	log := env.handler.EventLog()
	if len(log) != 2 || log[0] != "1:run.started" || log[1] != "2:message.done" {
		t.Errorf("event log = %v", log)
	}
}
