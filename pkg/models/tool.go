package models

import (
	"encoding/json"
	"time"
)

// ToolDefinition declares a function tool without an executable body.
// Stored definitions extend an agent's advertised tool set; execution still
// resolves against the process-local registry.
type ToolDefinition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone returns a deep copy of the definition.
func (t *ToolDefinition) Clone() *ToolDefinition {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Parameters != nil {
		clone.Parameters = append(json.RawMessage(nil), t.Parameters...)
	}
	return &clone
}
