package credits

import (
	"testing"

	"github.com/loomworks/loom/pkg/models"
)

func TestComputeKnownModel(t *testing.T) {
	table := NewTable(nil, 0)

	// gpt-4o: 2.50 in / 10.00 out per million.
	got := table.Compute("gpt-4o", models.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000})
	want := 2.50 + 5.00
	if got != want {
		t.Errorf("Compute = %v, want %v", got, want)
	}
}

func TestComputeMinimumCharge(t *testing.T) {
	table := NewTable(nil, 0.01)
	got := table.Compute("gpt-4o-mini", models.Usage{PromptTokens: 10, CompletionTokens: 5})
	if got != 0.01 {
		t.Errorf("expected minimum charge 0.01, got %v", got)
	}
}

func TestComputeZeroUsage(t *testing.T) {
	table := NewTable(nil, 0)
	if got := table.Compute("gpt-4o", models.Usage{}); got != 0 {
		t.Errorf("empty usage must cost nothing, got %v", got)
	}
}

func TestComputeUnknownModel(t *testing.T) {
	table := NewTable(nil, 0)
	if got := table.Compute("totally-unknown", models.Usage{PromptTokens: 1000}); got != 0 {
		t.Errorf("unknown model must cost nothing, got %v", got)
	}
}

func TestRatePrefixFallback(t *testing.T) {
	table := NewTable(nil, 0)
	rate, ok := table.Rate("gpt-4o-2024-11-20")
	if !ok {
		t.Fatal("expected prefix match for versioned model id")
	}
	if rate.Input != 2.50 {
		t.Errorf("unexpected rate: %+v", rate)
	}
}

func TestOverridesWin(t *testing.T) {
	table := NewTable(map[string]Rate{
		"gpt-4o":       {Input: 1.00, Output: 2.00},
		"custom-model": {Input: 5.00, Output: 5.00},
	}, 0)

	got := table.Compute("gpt-4o", models.Usage{PromptTokens: 1_000_000})
	if got != 1.00 {
		t.Errorf("override not applied: %v", got)
	}
	if _, ok := table.Rate("custom-model"); !ok {
		t.Error("override for new model missing")
	}
}
