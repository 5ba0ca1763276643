// Package credits prices completed runs. Each model has an input and an
// output price per million tokens; config can override or extend the
// built-in table.
package credits

import (
	"math"
	"strings"
	"sync"

	"github.com/loomworks/loom/pkg/models"
)

// DefaultMinimum is the smallest charge for a run that consumed tokens.
const DefaultMinimum = 0.001

// Rate is the price per million tokens for one model.
type Rate struct {
	Input  float64
	Output float64
}

// defaultRates covers the commonly served models. Prices are credits
// per million tokens.
var defaultRates = map[string]Rate{
	"gpt-4o":                     {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
	"gpt-4-turbo":                {Input: 10.00, Output: 30.00},
	"gpt-3.5-turbo":              {Input: 0.50, Output: 1.50},
	"claude-sonnet-4-20250514":   {Input: 3.00, Output: 15.00},
	"claude-3-5-sonnet-20241022": {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku-20241022":  {Input: 0.80, Output: 4.00},
}

// Table computes run credit charges.
type Table struct {
	mu      sync.RWMutex
	rates   map[string]Rate
	minimum float64
}

// NewTable builds the pricing table: built-in defaults, then overrides.
// A zero minimum uses DefaultMinimum.
func NewTable(overrides map[string]Rate, minimum float64) *Table {
	rates := make(map[string]Rate, len(defaultRates)+len(overrides))
	for model, rate := range defaultRates {
		rates[model] = rate
	}
	for model, rate := range overrides {
		rates[model] = rate
	}
	if minimum <= 0 {
		minimum = DefaultMinimum
	}
	return &Table{rates: rates, minimum: minimum}
}

// Rate returns the pricing for a model. Unknown models fall back to a
// prefix match (versioned model ids share their family's price), then
// to zero.
func (t *Table) Rate(model string) (Rate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if rate, ok := t.rates[model]; ok {
		return rate, true
	}
	// Longest prefix wins so gpt-4o-mini-* never prices as gpt-4o.
	var best string
	var bestRate Rate
	for known, rate := range t.rates {
		if strings.HasPrefix(model, known) && len(known) > len(best) {
			best = known
			bestRate = rate
		}
	}
	if best != "" {
		return bestRate, true
	}
	return Rate{}, false
}

// Compute prices one run's aggregated usage. Runs that consumed tokens
// on a priced model are charged at least the minimum; unknown models and
// empty usage cost nothing.
func (t *Table) Compute(model string, usage models.Usage) float64 {
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return 0
	}
	rate, ok := t.Rate(model)
	if !ok {
		return 0
	}

	cost := float64(usage.PromptTokens)/1e6*rate.Input +
		float64(usage.CompletionTokens)/1e6*rate.Output
	if cost < t.minimum {
		cost = t.minimum
	}
	// Round to micro-credit precision so stored values are stable.
	return math.Round(cost*1e6) / 1e6
}
