package config

import "time"

// ProvidersConfig holds credentials and tuning for the LLM providers.
type ProvidersConfig struct {
	Default   string         `yaml:"default"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxRetries   int    `yaml:"max_retries"`
}

// AssistantsConfig tunes the hosted-assistant binding.
type AssistantsConfig struct {
	// PollInterval is the delay between remote run status checks.
	PollInterval time.Duration `yaml:"poll_interval"`
	// RunTimeout bounds how long a remote run may stay non-terminal.
	RunTimeout time.Duration `yaml:"run_timeout"`
}
