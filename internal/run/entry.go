package run

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

// Entry is the dispatch surface the gateway and CLI call into. It
// validates triggers, fills in missing identifiers, and forwards to the
// orchestrator. Validation failures here never persist a run.
type Entry struct {
	orch   *Orchestrator
	logger *observability.Logger
}

// NewEntry creates the entry dispatcher.
func NewEntry(orch *Orchestrator, logger *observability.Logger) *Entry {
	return &Entry{orch: orch, logger: logger}
}

// Dispatch validates and executes one trigger synchronously. Callers
// that want fire-and-forget semantics run it on their own goroutine.
func (e *Entry) Dispatch(ctx context.Context, trigger Trigger) (*models.Run, error) {
	if trigger.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(trigger.Message) == "" && len(trigger.Attachments) == 0 {
		return nil, fmt.Errorf("message is required")
	}
	if trigger.ThreadID == "" {
		trigger.ThreadID = "thread_" + uuid.NewString()
	}
	if trigger.RunID == "" {
		trigger.RunID = "run_" + uuid.NewString()
	}
	if trigger.ChannelID == "" {
		trigger.ChannelID = trigger.ThreadID
	}

	if e.logger != nil {
		e.logger.Info(ctx, "dispatching run",
			"run_id", trigger.RunID,
			"thread_id", trigger.ThreadID,
			"agent_id", trigger.AgentID)
	}
	return e.orch.Execute(ctx, trigger)
}

// Stop raises the cooperative stop flag on a live run. It reports false
// when the run is unknown or already finished.
func (e *Entry) Stop(runID string) bool {
	return e.orch.Registry().StopRun(runID)
}
