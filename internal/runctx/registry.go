package runctx

import "sync"

// Registry maps live run ids to their contexts. The owning orchestrator is
// the only writer for a given run; any goroutine may read.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*RunContext
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*RunContext)}
}

// Register makes the run context reachable by run id.
func (r *Registry) Register(rc *RunContext) {
	if rc == nil || rc.RunID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[rc.RunID] = rc
}

// Lookup returns the live run context for a run id.
func (r *Registry) Lookup(runID string) (*RunContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.runs[runID]
	return rc, ok
}

// Release removes the run from the registry at run scope exit.
func (r *Registry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// StopRun raises the stop flag on a live run. It reports false when the
// run is unknown, already released, or finished.
func (r *Registry) StopRun(runID string) bool {
	rc, ok := r.Lookup(runID)
	if !ok {
		return false
	}
	rc.Stop()
	return true
}

// Active returns the number of registered runs.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
