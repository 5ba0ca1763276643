// Package prompt renders agent instructions. Named templates live on
// disk as *.tmpl files; agent instruction strings may also be templates
// themselves. Rendering failures always fall back to the raw text so a
// bad template never blocks a run.
package prompt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

const watchDebounce = 250 * time.Millisecond

// Vars is the data made available to instruction templates.
type Vars struct {
	AgentName string
	Date      string
	TenantID  string
	Custom    map[string]string
}

// Registry loads and renders instruction templates from one directory.
type Registry struct {
	dir    string
	logger *observability.Logger

	mu        sync.RWMutex
	templates map[string]*template.Template

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewRegistry creates a registry and loads the directory once. A missing
// directory is not an error; the registry just starts empty.
func NewRegistry(dir string, logger *observability.Logger) (*Registry, error) {
	r := &Registry{
		dir:       dir,
		logger:    logger,
		templates: make(map[string]*template.Template),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses every *.tmpl file in the directory. A file that fails
// to parse keeps its previous version and logs the failure.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompt directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		path := filepath.Join(r.dir, entry.Name())

		raw, err := os.ReadFile(path)
		if err != nil {
			r.warn("failed to read prompt template", "name", name, "error", err)
			continue
		}
		parsed, err := template.New(name).Parse(string(raw))
		if err != nil {
			r.warn("failed to parse prompt template, keeping previous version", "name", name, "error", err)
			continue
		}

		r.mu.Lock()
		r.templates[name] = parsed
		r.mu.Unlock()
	}
	return nil
}

// Render renders a named disk template. Unknown names and render errors
// return ok=false.
func (r *Registry) Render(name string, vars Vars) (string, bool) {
	r.mu.RLock()
	tmpl, found := r.templates[name]
	r.mu.RUnlock()
	if !found {
		return "", false
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		r.warn("failed to render prompt template", "name", name, "error", err)
		return "", false
	}
	return buf.String(), true
}

// Names lists the loaded template names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Instructions renders an agent's instruction string for one run. The
// string is treated as a template over Vars; if it names a disk template
// via "@name", that template renders instead. Any failure falls back to
// the raw instruction text.
func (r *Registry) Instructions(agent *models.AgentConfig, tenantID string) string {
	vars := Vars{
		AgentName: agent.Name,
		Date:      time.Now().UTC().Format("2006-01-02"),
		TenantID:  tenantID,
		Custom:    agent.Vars,
	}

	raw := agent.Instructions
	if name, ok := strings.CutPrefix(raw, "@"); ok {
		if rendered, found := r.Render(strings.TrimSpace(name), vars); found {
			return rendered
		}
		r.warn("instruction template not found, using raw text", "template", name, "agent", agent.ID)
		return raw
	}

	tmpl, err := template.New(agent.ID).Parse(raw)
	if err != nil {
		r.warn("failed to parse agent instructions, using raw text", "agent", agent.ID, "error", err)
		return raw
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		r.warn("failed to render agent instructions, using raw text", "agent", agent.ID, "error", err)
		return raw
	}
	return buf.String()
}

// Watch hot-reloads the directory on file changes until ctx is done.
// Change bursts are coalesced behind a debounce timer.
func (r *Registry) Watch(ctx context.Context) error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompt directory: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	r.watcher = watcher
	r.watchCancel = cancel

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if running.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	watcher := r.watcher
	cancel := r.watchCancel
	r.watcher = nil
	r.watchCancel = nil
	r.watchMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer r.watchWg.Done()

	var timerMu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if err := r.Reload(); err != nil {
				r.warn("prompt reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.warn("prompt watch error", "error", err)
		}
	}
}

func (r *Registry) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(context.Background(), msg, args...)
	}
}
