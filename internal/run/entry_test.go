package run

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/pkg/models"
)

func TestEntryRejectsInvalidTriggers(t *testing.T) {
	env := newTestEnv(t, localAgent(), &scriptedProvider{}, nil)
	entry := NewEntry(env.orch, nil)

	if _, err := entry.Dispatch(context.Background(), Trigger{Message: "hi"}); err == nil || !strings.Contains(err.Error(), "agent id") {
		t.Errorf("missing agent id: %v", err)
	}
	if _, err := entry.Dispatch(context.Background(), Trigger{AgentID: "agent-1"}); err == nil || !strings.Contains(err.Error(), "message") {
		t.Errorf("missing message: %v", err)
	}
}

func TestEntryFillsMissingIdentifiers(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llm.Chunk{
		{{Text: "hi"}, {Done: true}},
	}}
	env := newTestEnv(t, localAgent(), provider, nil)
	entry := NewEntry(env.orch, nil)

	run, err := entry.Dispatch(context.Background(), Trigger{AgentID: "agent-1", Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("run id = %q", run.ID)
	}
	if !strings.HasPrefix(run.ThreadID, "thread_") {
		t.Errorf("thread id = %q", run.ThreadID)
	}
	if run.Status != models.RunStatusCompleted {
		t.Errorf("status = %s", run.Status)
	}
}

func TestEntryPropagatesUnknownAgent(t *testing.T) {
	env := newTestEnv(t, localAgent(), &scriptedProvider{}, nil)
	entry := NewEntry(env.orch, nil)

	_, err := entry.Dispatch(context.Background(), Trigger{AgentID: "nobody", Message: "hi"})
	if !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("err = %v", err)
	}
}

func TestEntryStopUnknownRun(t *testing.T) {
	env := newTestEnv(t, localAgent(), &scriptedProvider{}, nil)
	entry := NewEntry(env.orch, nil)

	if entry.Stop("no-such-run") {
		t.Error("stop reported success for unknown run")
	}
}
