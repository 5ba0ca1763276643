package config

import (
	"fmt"

	"github.com/loomworks/loom/pkg/models"
)

// AgentConfig declares an agent in the configuration file. Declared agents
// are seeded into the agent store at startup.
type AgentConfig struct {
	ID            string                    `yaml:"id"`
	Name          string                    `yaml:"name"`
	Mode          string                    `yaml:"mode"`
	Model         string                    `yaml:"model"`
	Instructions  string                    `yaml:"instructions"`
	Temperature   float32                   `yaml:"temperature"`
	Toolkits      []string                  `yaml:"toolkits"`
	ToolConfig    map[string]map[string]any `yaml:"tool_config"`
	VectorStoreID string                    `yaml:"vector_store_id"`
	MaxSteps      int                       `yaml:"max_steps"`
	ToolChoice    string                    `yaml:"tool_choice"`
	Vars          map[string]string         `yaml:"vars"`
}

// Validate checks the declared agent for field-level mistakes.
func (a AgentConfig) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agents entries require an id")
	}
	switch a.Mode {
	case "", "local", "assistant":
	default:
		return fmt.Errorf("agent %s: mode must be local or assistant, got %q", a.ID, a.Mode)
	}
	switch a.ToolChoice {
	case "", "auto", "none", "required":
	default:
		return fmt.Errorf("agent %s: tool_choice must be auto, none, or required, got %q", a.ID, a.ToolChoice)
	}
	if a.MaxSteps != 0 && (a.MaxSteps < 3 || a.MaxSteps > 20) {
		return fmt.Errorf("agent %s: max_steps must be between 3 and 20, got %d", a.ID, a.MaxSteps)
	}
	return nil
}

// ToAgent converts the declaration into the domain agent config.
func (a AgentConfig) ToAgent() models.AgentConfig {
	toolConfig := make(map[string]models.ToolConfig, len(a.ToolConfig))
	for toolkit, cfg := range a.ToolConfig {
		merged := make(map[string]any, len(cfg))
		for k, v := range cfg {
			merged[k] = v
		}
		toolConfig[toolkit] = models.ToolConfig{Config: merged}
	}
	return models.AgentConfig{
		ID:            a.ID,
		Name:          a.Name,
		Instructions:  a.Instructions,
		Model:         a.Model,
		Temperature:   a.Temperature,
		Mode:          models.AgentMode(a.Mode),
		Toolkits:      append([]string(nil), a.Toolkits...),
		ToolConfig:    toolConfig,
		VectorStoreID: a.VectorStoreID,
		MaxSteps:      a.MaxSteps,
		ToolChoice:    a.ToolChoice,
		Vars:          cloneStringMap(a.Vars),
	}
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
