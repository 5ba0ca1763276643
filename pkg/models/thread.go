package models

import "time"

// Thread is a conversation container. Threads are created lazily on the
// first run for a new id and never deleted by the orchestrator. ExternalID
// is the handle into a hosted-assistant service when the thread has been
// mirrored remotely.
type Thread struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a copy safe for callers to mutate.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	return &cp
}
