package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/loomworks/loom/internal/conn"
	"github.com/loomworks/loom/internal/run"
)

// inboundFrame is what clients send on a websocket channel. A frame with
// Stop set cancels the named run; anything else triggers a new run.
type inboundFrame struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
	RunID    string `json:"runId,omitempty"`
	AgentID  string `json:"agentId,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Stop     bool   `json:"stop,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel_id")
	if channelID == "" {
		http.Error(w, "channel id is required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.warn(r.Context(), "websocket upgrade failed", "channel_id", channelID, "error", err)
		return
	}

	session := conn.NewWSSession(ws, s.logger)
	s.manager.Connect(channelID, session)
	defer func() {
		s.manager.Disconnect(channelID, session)
		session.Close()
	}()

	session.Run(r.Context(), func(ctx context.Context, data []byte) {
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.warn(ctx, "dropping malformed inbound frame", "channel_id", channelID, "error", err)
			return
		}

		if frame.Stop {
			if frame.RunID == "" || !s.entry.Stop(frame.RunID) {
				s.warn(ctx, "stop request for unknown run", "run_id", frame.RunID)
			}
			return
		}

		trigger := run.Trigger{
			ChannelID: channelID,
			ThreadID:  frame.ThreadID,
			RunID:     frame.RunID,
			AgentID:   frame.AgentID,
			TenantID:  frame.TenantID,
			Message:   frame.Message,
		}

		// Each inbound message drives its own run; the websocket read
		// pump must stay free to accept stop requests meanwhile.
		go func() {
			if _, err := s.entry.Dispatch(context.WithoutCancel(ctx), trigger); err != nil {
				s.warn(ctx, "run dispatch rejected", "channel_id", channelID, "error", err)
			}
		}()
	})
}
