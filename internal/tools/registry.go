package tools

import (
	"sort"
	"sync"

	"github.com/loomworks/loom/pkg/models"
)

// Registry holds the process-local tools and toolkits. Registration is
// thread safe; lookups return stable snapshots.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	toolkits map[string][]string
}

// NewRegistry creates an empty registry with the end_run sentinel
// pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		toolkits: make(map[string][]string),
	}
	r.Register(endRunTool{})
	return r
}

// Register adds a standalone tool, replacing any tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// RegisterToolkit adds a toolkit and all of its tools.
func (r *Registry) RegisterToolkit(kit Toolkit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(kit.Tools))
	for _, tool := range kit.Tools {
		r.tools[tool.Name()] = tool
		names = append(names, tool.Name())
	}
	r.toolkits[kit.Name] = names
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// ToolkitOf returns the toolkit a tool belongs to, or "" for standalone
// tools. Config overrides are keyed by toolkit id, so the runner needs
// this reverse lookup.
func (r *Registry) ToolkitOf(toolName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for kit, names := range r.toolkits {
		for _, name := range names {
			if name == toolName {
				return kit
			}
		}
	}
	return ""
}

// ForAgent resolves the agent's active tool set: the union of its enabled
// toolkits and any stored custom definitions, plus the end_run sentinel.
// The result is ordered by name so advertised schemas are deterministic.
func (r *Registry) ForAgent(agent *models.AgentConfig) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make(map[string]Tool)
	if sentinel, ok := r.tools[EndRunToolName]; ok {
		active[EndRunToolName] = sentinel
	}
	if agent != nil {
		for _, kit := range agent.Toolkits {
			for _, name := range r.toolkits[kit] {
				if tool, ok := r.tools[name]; ok {
					active[name] = tool
				}
			}
			// A toolkit name may also refer to a standalone tool.
			if tool, ok := r.tools[kit]; ok {
				active[kit] = tool
			}
		}
	}

	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, active[name])
	}
	return out
}

// Names lists every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
