package models

import "time"

// AgentMode selects how a run executes: delegated to a hosted assistant
// service, or driven locally against a chat-completions model.
type AgentMode string

const (
	AgentModeAssistant AgentMode = "assistant"
	AgentModeLocal     AgentMode = "local"
)

// ToolConfig is a per-toolkit configuration override merged into tool
// invocations at execution time.
type ToolConfig struct {
	Config map[string]any `json:"config,omitempty"`
}

// AgentConfig describes a configured agent. Instructions may contain
// template variables rendered at run start.
type AgentConfig struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Instructions  string                `json:"instructions"`
	Model         string                `json:"model"`
	Temperature   float32               `json:"temperature,omitempty"`
	Mode          AgentMode             `json:"mode"`
	Toolkits      []string              `json:"toolkits,omitempty"`
	ToolConfig    map[string]ToolConfig `json:"tool_config,omitempty"`
	VectorStoreID string                `json:"vector_store_id,omitempty"`
	MaxSteps      int                   `json:"max_steps,omitempty"`
	ToolChoice    string                `json:"tool_choice,omitempty"`
	Vars          map[string]string     `json:"vars,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Clone returns a copy safe for per-run snapshotting.
func (a *AgentConfig) Clone() *AgentConfig {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Toolkits = append([]string(nil), a.Toolkits...)
	if a.ToolConfig != nil {
		cp.ToolConfig = make(map[string]ToolConfig, len(a.ToolConfig))
		for k, v := range a.ToolConfig {
			cp.ToolConfig[k] = v
		}
	}
	if a.Vars != nil {
		cp.Vars = make(map[string]string, len(a.Vars))
		for k, v := range a.Vars {
			cp.Vars[k] = v
		}
	}
	return &cp
}

// HasToolkit reports whether the named toolkit is enabled on this agent.
func (a *AgentConfig) HasToolkit(name string) bool {
	for _, t := range a.Toolkits {
		if t == name {
			return true
		}
	}
	return false
}
