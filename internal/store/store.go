// Package store persists threads, messages, runs, agents, and uploaded
// files. Backends: in-memory (reference), SQLite, Postgres, and Redis. All
// operations are idempotent upserts on the primary key; lookups that miss
// return (nil, nil).
package store

import (
	"context"

	"github.com/loomworks/loom/pkg/models"
)

// ThreadStore persists conversation threads.
type ThreadStore interface {
	// GetOrCreate returns the thread, creating it on first use.
	GetOrCreate(ctx context.Context, threadID, tenantID string, tags []string) (*models.Thread, error)
	Save(ctx context.Context, thread *models.Thread) error
	// RemoteHandle returns the thread's external id, or "" when the thread
	// has no remote mirror yet.
	RemoteHandle(ctx context.Context, threadID string) (string, error)
}

// MessageStore persists thread messages in creation order.
type MessageStore interface {
	Save(ctx context.Context, threadID string, msg *models.Message) error
	Get(ctx context.Context, messageID string) (*models.Message, error)
	List(ctx context.Context, threadID string) ([]*models.Message, error)
	// UpdateToolCalls splices a late-resolved file URL into every message
	// content block that references the file id.
	UpdateToolCalls(ctx context.Context, threadID, fileID string, ds *models.DataSource) error
}

// RunStore persists runs.
type RunStore interface {
	// GetOrCreate returns the run, creating a started skeleton on first
	// use. The second return reports whether the run was created.
	GetOrCreate(ctx context.Context, runID string) (*models.Run, bool, error)
	// Init upserts the run with its identity fields and status started.
	Init(ctx context.Context, runID, threadID, tenantID, agentID string, tags []string) (*models.Run, error)
	Save(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, runID string) (*models.Run, error)
}

// AgentFilter narrows AgentStore.List.
type AgentFilter struct {
	Mode    models.AgentMode
	Toolkit string
}

// AgentStore persists agent configurations.
type AgentStore interface {
	Get(ctx context.Context, agentID string) (*models.AgentConfig, error)
	List(ctx context.Context, filter AgentFilter) ([]*models.AgentConfig, error)
	Put(ctx context.Context, agent *models.AgentConfig) error
}

// DataSourceStore persists uploaded files: bytes through blob storage,
// metadata through the backing store.
type DataSourceStore interface {
	SaveFile(ctx context.Context, data []byte, ds *models.DataSource) (*models.DataSource, error)
	Get(ctx context.Context, fileID string) (*models.DataSource, []byte, error)
	List(ctx context.Context) ([]*models.DataSource, error)
	Delete(ctx context.Context, fileID string) error
}

// ToolStore persists declared function tools.
type ToolStore interface {
	Get(ctx context.Context, toolID string) (*models.ToolDefinition, error)
	List(ctx context.Context) ([]*models.ToolDefinition, error)
	Put(ctx context.Context, def *models.ToolDefinition) error
}

// Stores groups the storage dependencies of the orchestrator and gateway.
type Stores struct {
	Threads     ThreadStore
	Messages    MessageStore
	Runs        RunStore
	Agents      AgentStore
	DataSources DataSourceStore
	Tools       ToolStore

	closer func() error
}

// Close releases any underlying resources.
func (s Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
