package llm

import (
	"fmt"
	"strings"
	"sync"
)

// Registry routes completion requests to the configured providers.
// Models prefixed "claude" route to anthropic, "gpt"/"o" to openai;
// anything else falls back to the configured default.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewProviderRegistry creates a registry with the given default
// provider name.
func NewProviderRegistry(fallback string) *Registry {
	if fallback == "" {
		fallback = "openai"
	}
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
}

// Register adds a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// ForModel selects the provider that serves the model.
func (r *Registry) ForModel(model string) (Provider, error) {
	name := providerForModel(model)
	if name == "" {
		name = r.fallback
	}
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider registered for model %q (wanted %s)", model, name)
	}
	return p, nil
}

func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	default:
		return ""
	}
}
