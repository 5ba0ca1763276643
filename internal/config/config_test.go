package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Providers.Default != "openai" {
		t.Errorf("providers.default = %q, want openai", cfg.Providers.Default)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("store.backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Blob.Backend != "local" {
		t.Errorf("blob.backend = %q, want local", cfg.Blob.Backend)
	}
	if cfg.Assistants.PollInterval != 800*time.Millisecond {
		t.Errorf("assistants.poll_interval = %v, want 800ms", cfg.Assistants.PollInterval)
	}
	if cfg.Observability.Logging.Level != "info" {
		t.Errorf("logging.level = %q, want info", cfg.Observability.Logging.Level)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_LOOM_KEY", "sk-from-env")
	path := writeConfig(t, `
providers:
  openai:
    api_key: ${TEST_LOOM_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want sk-from-env", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesStoreBackend(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: dynamo
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "store.backend") {
		t.Fatalf("expected store.backend error, got %v", err)
	}
}

func TestLoadValidatesSQLitePath(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: sqlite
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "store.sqlite.path") {
		t.Fatalf("expected sqlite path error, got %v", err)
	}
}

func TestLoadValidatesAgentMode(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: helper
    mode: remote
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "mode") {
		t.Fatalf("expected mode error, got %v", err)
	}
}

func TestLoadRejectsDuplicateAgents(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: helper
  - id: helper
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "duplicate agent") {
		t.Fatalf("expected duplicate agent error, got %v", err)
	}
}

func TestLoadDefaultsAgentFields(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: helper
    model: gpt-4o
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(cfg.Agents))
	}
	agent := cfg.Agents[0].ToAgent()
	if string(agent.Mode) != "local" {
		t.Errorf("mode = %q, want local", agent.Mode)
	}
	if agent.MaxSteps != 10 {
		t.Errorf("max_steps = %d, want 10", agent.MaxSteps)
	}
}

func TestLoadLeavesBareDollarFormsAlone(t *testing.T) {
	t.Setenv("TEST_LOOM_HOST", "10.0.0.5")
	path := writeConfig(t, `
server:
  host: ${TEST_LOOM_HOST}
providers:
  openai:
    api_key: $notaref
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("host = %q, want 10.0.0.5", cfg.Server.Host)
	}
	if cfg.Providers.OpenAI.APIKey != "$notaref" {
		t.Errorf("bare dollar value rewritten: api_key = %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoadResolvesIncludesWithEnvRefs(t *testing.T) {
	t.Setenv("TEST_LOOM_PORT_HOST", "192.168.1.9")
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("server:\n  host: ${TEST_LOOM_PORT_HOST}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	main := filepath.Join(dir, "loom.yaml")
	if err := os.WriteFile(main, []byte("$include: base.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "192.168.1.9" {
		t.Errorf("host = %q, want 192.168.1.9", cfg.Server.Host)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("server:\n  port: 9000\n  host: 127.0.0.1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	main := filepath.Join(dir, "loom.yaml")
	contents := "$include: base.yaml\nserver:\n  port: 9100\n"
	if err := os.WriteFile(main, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("including file should win: port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("included value lost: host = %q, want 127.0.0.1", cfg.Server.Host)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
