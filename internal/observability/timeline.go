package observability

import (
	"sync"
	"time"
)

// TimelineEventType identifies the kind of timeline entry.
type TimelineEventType string

const (
	TimelineRunStarted   TimelineEventType = "run.started"
	TimelineRunFinished  TimelineEventType = "run.finished"
	TimelineStepStarted  TimelineEventType = "step.started"
	TimelineStepFinished TimelineEventType = "step.finished"
	TimelineToolStarted  TimelineEventType = "tool.started"
	TimelineToolFinished TimelineEventType = "tool.finished"
	TimelineProviderCall TimelineEventType = "provider.call"
	TimelineError        TimelineEventType = "error"
)

// TimelineEvent is a single entry in a run's timeline.
type TimelineEvent struct {
	Type      TimelineEventType `json:"type"`
	Timestamp time.Time         `json:"ts"`
	Name      string            `json:"name,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Duration  time.Duration     `json:"duration_ns,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Timeline collects lifecycle events per run so they can be attached to the
// run record when it finishes. It keeps at most maxRuns runs in memory and
// evicts the oldest run when the limit is reached.
type Timeline struct {
	mu      sync.Mutex
	byRun   map[string][]TimelineEvent
	order   []string
	maxRuns int
}

// NewTimeline creates a timeline bounded to maxRuns concurrent runs.
func NewTimeline(maxRuns int) *Timeline {
	if maxRuns <= 0 {
		maxRuns = 256
	}
	return &Timeline{
		byRun:   make(map[string][]TimelineEvent),
		maxRuns: maxRuns,
	}
}

// Record appends an event to the run's timeline. Events with an empty run ID
// are dropped.
func (t *Timeline) Record(runID string, ev TimelineEvent) {
	if runID == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byRun[runID]; !ok {
		if len(t.order) >= t.maxRuns {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.byRun, oldest)
		}
		t.order = append(t.order, runID)
	}
	t.byRun[runID] = append(t.byRun[runID], ev)
}

// ForRun returns a copy of the run's events in recording order.
func (t *Timeline) ForRun(runID string) []TimelineEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.byRun[runID]
	out := make([]TimelineEvent, len(events))
	copy(out, events)
	return out
}

// Drain returns the run's events and releases the run's slot.
func (t *Timeline) Drain(runID string) []TimelineEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	events, ok := t.byRun[runID]
	if !ok {
		return nil
	}
	delete(t.byRun, runID)
	for i, id := range t.order {
		if id == runID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return events
}
