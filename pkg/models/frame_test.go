package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFrame_WireKeysAreCamelCased(t *testing.T) {
	f := Frame{
		RunID:       "run-1",
		ThreadID:    "thread-1",
		ChannelID:   "channel-1",
		Event:       FrameEventMessage,
		MessageType: FrameMessage,
		Streaming:   true,
		Patch:       true,
		Message:     NewTextMessage("msg-1", "thread-1", "run-1", RoleAssistant, "hi"),
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"runId", "threadId", "channelId", "event", "messageType", "streaming", "patch", "message"} {
		if _, ok := envelope[key]; !ok {
			t.Errorf("wire frame missing envelope key %q: %s", key, data)
		}
	}
	for key := range envelope {
		if strings.ContainsAny(key, "_") || strings.ToLower(key[:1]) != key[:1] {
			t.Errorf("wire frame envelope leaked non-camelCase key %q: %s", key, data)
		}
	}

	// The message payload keeps the domain encoding used by persistence.
	if !strings.Contains(string(envelope["message"]), `"thread_id"`) {
		t.Errorf("message payload lost its domain encoding: %s", envelope["message"])
	}
}

func TestFrame_CloseCarriesNullMessage(t *testing.T) {
	f := Frame{
		RunID:       "run-1",
		ThreadID:    "thread-1",
		ChannelID:   "channel-1",
		Event:       FrameEventClose,
		MessageType: FrameClose,
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"message":null`) {
		t.Errorf("close frame should carry an explicit null message: %s", data)
	}
}

func TestFrame_Terminal(t *testing.T) {
	tests := []struct {
		event FrameEvent
		want  bool
	}{
		{FrameEventMessage, false},
		{FrameEventClose, true},
		{FrameEventError, true},
	}
	for _, tt := range tests {
		f := Frame{Event: tt.event}
		if got := f.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestFrame_ErrorDetailSeparateFromGenericText(t *testing.T) {
	f := Frame{
		RunID:       "run-1",
		Event:       FrameEventError,
		MessageType: FrameError,
		Message:     NewTextMessage("msg-1", "thread-1", "run-1", RoleAssistant, GenericErrorText),
		ErrorDetail: "provider timeout after 30s",
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"errorDetail":"provider timeout after 30s"`) {
		t.Errorf("errorDetail missing: %s", data)
	}
	if !strings.Contains(string(data), GenericErrorText) {
		t.Errorf("generic user-facing text missing: %s", data)
	}
}
