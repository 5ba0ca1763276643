package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd()
	for _, name := range []string{"serve", "config", "agents"} {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestConfigValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	cfgYAML := `
server:
  port: 9090
agents:
  - id: helper
    name: Helper
    model: gpt-4o
`
	if err := os.WriteFile(path, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"config", "validate", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out.String(), "OK") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConfigValidateRejectsBadBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	cfgYAML := `
store:
  backend: cassandra
`
	if err := os.WriteFile(path, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	root := buildRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"config", "validate", "--config", path})
	if err := root.Execute(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAgentsListWithMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	cfgYAML := `
blob:
  local:
    dir: ` + filepath.Join(dir, "files") + `
agents:
  - id: helper
    name: Helper
    model: gpt-4o
    toolkits: [web_browser]
`
	if err := os.WriteFile(path, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"agents", "list", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("agents list failed: %v", err)
	}
	if !strings.Contains(out.String(), "helper") || !strings.Contains(out.String(), "web_browser") {
		t.Errorf("output = %q", out.String())
	}
}
