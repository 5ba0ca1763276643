package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomworks/loom/pkg/models"
)

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryRendersDiskTemplate(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "support.tmpl", "You are {{.AgentName}}. Today is {{.Date}}.")

	reg, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	out, ok := reg.Render("support", Vars{AgentName: "Helper", Date: "2026-01-02"})
	if !ok {
		t.Fatal("template not found")
	}
	if out != "You are Helper. Today is 2026-01-02." {
		t.Errorf("unexpected render: %q", out)
	}
}

func TestRegistryMissingDirIsEmpty(t *testing.T) {
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "absent"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reg.Names()) != 0 {
		t.Errorf("expected empty registry, got %v", reg.Names())
	}
}

func TestRegistryBadTemplateKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "greet.tmpl", "Hello {{.AgentName}}")

	reg, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	writeTemplate(t, dir, "greet.tmpl", "broken {{.Unclosed")
	if err := reg.Reload(); err != nil {
		t.Fatal(err)
	}

	out, ok := reg.Render("greet", Vars{AgentName: "Helper"})
	if !ok || out != "Hello Helper" {
		t.Errorf("expected previous version to survive, got %q ok=%v", out, ok)
	}
}

func TestInstructionsInline(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	agent := &models.AgentConfig{
		ID:           "agent-1",
		Name:         "Helper",
		Instructions: "You are {{.AgentName}} for tenant {{.TenantID}} ({{.Custom.tone}}).",
		Vars:         map[string]string{"tone": "formal"},
	}
	out := reg.Instructions(agent, "acme")
	if out != "You are Helper for tenant acme (formal)." {
		t.Errorf("unexpected instructions: %q", out)
	}
}

func TestInstructionsDiskReference(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "base.tmpl", "Base prompt for {{.AgentName}}")

	reg, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	agent := &models.AgentConfig{ID: "agent-1", Name: "Helper", Instructions: "@base"}
	if out := reg.Instructions(agent, ""); out != "Base prompt for Helper" {
		t.Errorf("unexpected instructions: %q", out)
	}

	// Unknown references fall back to the raw text.
	agent.Instructions = "@missing"
	if out := reg.Instructions(agent, ""); out != "@missing" {
		t.Errorf("expected raw fallback, got %q", out)
	}
}

func TestInstructionsBrokenTemplateFallsBack(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	agent := &models.AgentConfig{ID: "agent-1", Instructions: "broken {{.Nope"}
	if out := reg.Instructions(agent, ""); out != "broken {{.Nope" {
		t.Errorf("expected raw fallback, got %q", out)
	}

	// Render-time failures fall back too: missing map key with a call.
	agent.Instructions = "value {{call .Custom}}"
	if out := reg.Instructions(agent, ""); !strings.HasPrefix(out, "value") {
		t.Errorf("expected fallback text, got %q", out)
	}
}
