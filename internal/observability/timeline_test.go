package observability

import (
	"fmt"
	"testing"
)

func TestTimelineRecordAndDrain(t *testing.T) {
	tl := NewTimeline(10)

	tl.Record("run-1", TimelineEvent{Type: TimelineRunStarted})
	tl.Record("run-1", TimelineEvent{Type: TimelineToolStarted, Name: "web_browser"})
	tl.Record("run-1", TimelineEvent{Type: TimelineRunFinished})
	tl.Record("run-2", TimelineEvent{Type: TimelineRunStarted})

	events := tl.ForRun("run-1")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != TimelineRunStarted || events[2].Type != TimelineRunFinished {
		t.Errorf("events out of order: %v", events)
	}
	if events[1].Name != "web_browser" {
		t.Errorf("tool name = %q, want web_browser", events[1].Name)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}

	drained := tl.Drain("run-1")
	if len(drained) != 3 {
		t.Fatalf("drain returned %d events, want 3", len(drained))
	}
	if remaining := tl.ForRun("run-1"); len(remaining) != 0 {
		t.Errorf("run still present after drain: %v", remaining)
	}
	if other := tl.ForRun("run-2"); len(other) != 1 {
		t.Errorf("unrelated run affected by drain: %v", other)
	}
}

func TestTimelineEvictsOldestRun(t *testing.T) {
	tl := NewTimeline(2)

	for i := 0; i < 3; i++ {
		tl.Record(fmt.Sprintf("run-%d", i), TimelineEvent{Type: TimelineRunStarted})
	}

	if events := tl.ForRun("run-0"); len(events) != 0 {
		t.Errorf("oldest run should be evicted, got %v", events)
	}
	if events := tl.ForRun("run-2"); len(events) != 1 {
		t.Errorf("newest run missing: %v", events)
	}
}

func TestTimelineDropsEmptyRunID(t *testing.T) {
	tl := NewTimeline(10)
	tl.Record("", TimelineEvent{Type: TimelineRunStarted})
	if events := tl.ForRun(""); len(events) != 0 {
		t.Errorf("expected empty run ID to be dropped, got %v", events)
	}
}
