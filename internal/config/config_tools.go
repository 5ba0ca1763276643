package config

import "time"

// ToolsConfig tunes the tool runner and the built-in toolkits.
type ToolsConfig struct {
	// Timeout is the per-invocation bound applied by the runner.
	Timeout    time.Duration    `yaml:"timeout"`
	WebBrowser WebBrowserConfig `yaml:"web_browser"`
}

type WebBrowserConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	UserAgent    string        `yaml:"user_agent"`
}

// PromptsConfig points at the instruction template directory.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
	// Watch enables hot reload of changed template files.
	Watch bool `yaml:"watch"`
}

// CreditsConfig overrides the built-in per-model pricing table.
type CreditsConfig struct {
	// Minimum is the smallest credit charge for a completed run.
	Minimum float64                    `yaml:"minimum"`
	Models  map[string]ModelRateConfig `yaml:"models"`
}

// ModelRateConfig is the price per million tokens for one model.
type ModelRateConfig struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}
