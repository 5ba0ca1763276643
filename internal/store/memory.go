package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/blob"
	"github.com/loomworks/loom/pkg/models"
)

// MemoryThreadStore provides an in-memory ThreadStore.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string]*models.Thread
}

// NewMemoryThreadStore creates an in-memory thread store.
func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{threads: make(map[string]*models.Thread)}
}

func (s *MemoryThreadStore) GetOrCreate(ctx context.Context, threadID, tenantID string, tags []string) (*models.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread, ok := s.threads[threadID]; ok {
		return thread.Clone(), nil
	}
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:        threadID,
		TenantID:  tenantID,
		Tags:      append([]string(nil), tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[threadID] = thread
	return thread.Clone(), nil
}

func (s *MemoryThreadStore) Save(ctx context.Context, thread *models.Thread) error {
	if thread == nil || thread.ID == "" {
		return fmt.Errorf("thread is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := thread.Clone()
	saved.UpdatedAt = time.Now().UTC()
	s.threads[thread.ID] = saved
	return nil
}

func (s *MemoryThreadStore) RemoteHandle(ctx context.Context, threadID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return "", nil
	}
	return thread.ExternalID, nil
}

// MemoryMessageStore provides an in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	byThread map[string][]string
}

// NewMemoryMessageStore creates an in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string]*models.Message),
		byThread: make(map[string][]string),
	}
}

func (s *MemoryMessageStore) Save(ctx context.Context, threadID string, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	if threadID == "" {
		threadID = msg.ThreadID
	}
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := msg.Clone()
	saved.ThreadID = threadID
	if _, exists := s.messages[msg.ID]; !exists {
		s.byThread[threadID] = append(s.byThread[threadID], msg.ID)
	}
	s.messages[msg.ID] = saved
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	return msg.Clone(), nil
}

func (s *MemoryMessageStore) List(ctx context.Context, threadID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byThread[threadID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			out = append(out, msg.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt)
	})
	return out, nil
}

func (s *MemoryMessageStore) UpdateToolCalls(ctx context.Context, threadID, fileID string, ds *models.DataSource) error {
	if fileID == "" || ds == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byThread[threadID] {
		msg, ok := s.messages[id]
		if !ok {
			continue
		}
		spliceFileURL(msg, fileID, ds.URL)
	}
	return nil
}

// spliceFileURL sets the URL on every content block referencing fileID and
// reports whether any block changed.
func spliceFileURL(msg *models.Message, fileID, url string) bool {
	touched := false
	for i := range msg.Content {
		if msg.Content[i].FileID == fileID && msg.Content[i].URL != url {
			msg.Content[i].URL = url
			touched = true
		}
	}
	return touched
}

// MemoryRunStore provides an in-memory RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*models.Run
}

// NewMemoryRunStore creates an in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*models.Run)}
}

func (s *MemoryRunStore) GetOrCreate(ctx context.Context, runID string) (*models.Run, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		return run.Clone(), false, nil
	}
	now := time.Now().UTC()
	run := &models.Run{
		ID:         runID,
		Status:     models.RunStatusStarted,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	s.runs[runID] = run
	return run.Clone(), true, nil
}

func (s *MemoryRunStore) Init(ctx context.Context, runID, threadID, tenantID, agentID string, tags []string) (*models.Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	run, ok := s.runs[runID]
	if !ok {
		run = &models.Run{ID: runID, Status: models.RunStatusStarted, CreatedAt: now}
		s.runs[runID] = run
	}
	run.ThreadID = threadID
	run.TenantID = tenantID
	run.AgentID = agentID
	run.Tags = append([]string(nil), tags...)
	run.ModifiedAt = now
	return run.Clone(), nil
}

func (s *MemoryRunStore) Save(ctx context.Context, run *models.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryRunStore) Get(ctx context.Context, runID string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return run.Clone(), nil
}

// MemoryAgentStore provides an in-memory AgentStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentConfig
}

// NewMemoryAgentStore creates an in-memory agent store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*models.AgentConfig)}
}

func (s *MemoryAgentStore) Get(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, nil
	}
	return agent.Clone(), nil
}

func (s *MemoryAgentStore) List(ctx context.Context, filter AgentFilter) ([]*models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AgentConfig, 0, len(s.agents))
	for _, agent := range s.agents {
		if filter.Mode != "" && agent.Mode != filter.Mode {
			continue
		}
		if filter.Toolkit != "" && !agent.HasToolkit(filter.Toolkit) {
			continue
		}
		out = append(out, agent.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryAgentStore) Put(ctx context.Context, agent *models.AgentConfig) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := agent.Clone()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	saved.UpdatedAt = time.Now().UTC()
	s.agents[agent.ID] = saved
	return nil
}

// MemoryDataSourceStore provides an in-memory DataSourceStore. Metadata
// lives in the map; bytes go through the injected blob storage.
type MemoryDataSourceStore struct {
	mu    sync.RWMutex
	files map[string]*models.DataSource
	blobs blob.Storage
}

// NewMemoryDataSourceStore creates an in-memory data source store.
func NewMemoryDataSourceStore(blobs blob.Storage) *MemoryDataSourceStore {
	return &MemoryDataSourceStore{
		files: make(map[string]*models.DataSource),
		blobs: blobs,
	}
}

func (s *MemoryDataSourceStore) SaveFile(ctx context.Context, data []byte, ds *models.DataSource) (*models.DataSource, error) {
	if ds == nil || ds.FileID == "" {
		return nil, fmt.Errorf("data source is required")
	}
	meta, err := s.blobs.Save(ctx, data, ds.FileID, ds.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to store file bytes: %w", err)
	}

	saved := *ds
	saved.Store = *meta
	saved.Size = meta.Size
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	if saved.URL == "" {
		if url, err := s.blobs.PresignedURL(ctx, meta, "GET"); err == nil && url != "" {
			saved.URL = url
		}
	}

	s.mu.Lock()
	s.files[saved.FileID] = &saved
	s.mu.Unlock()

	out := saved
	return &out, nil
}

func (s *MemoryDataSourceStore) Get(ctx context.Context, fileID string) (*models.DataSource, []byte, error) {
	s.mu.RLock()
	ds, ok := s.files[fileID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, nil
	}
	data, err := s.blobs.Get(ctx, &ds.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file bytes: %w", err)
	}
	out := *ds
	return &out, data, nil
}

func (s *MemoryDataSourceStore) List(ctx context.Context) ([]*models.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.DataSource, 0, len(s.files))
	for _, ds := range s.files {
		copied := *ds
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDataSourceStore) Delete(ctx context.Context, fileID string) error {
	s.mu.Lock()
	ds, ok := s.files[fileID]
	if ok {
		delete(s.files, fileID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.blobs.Delete(ctx, &ds.Store)
}

// MemoryToolStore provides an in-memory ToolStore.
type MemoryToolStore struct {
	mu    sync.RWMutex
	tools map[string]*models.ToolDefinition
}

// NewMemoryToolStore creates an in-memory tool store.
func NewMemoryToolStore() *MemoryToolStore {
	return &MemoryToolStore{tools: make(map[string]*models.ToolDefinition)}
}

func (s *MemoryToolStore) Get(ctx context.Context, toolID string) (*models.ToolDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.tools[toolID]
	if !ok {
		return nil, nil
	}
	return def.Clone(), nil
}

func (s *MemoryToolStore) List(ctx context.Context) ([]*models.ToolDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ToolDefinition, 0, len(s.tools))
	for _, def := range s.tools {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryToolStore) Put(ctx context.Context, def *models.ToolDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("tool definition is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := def.Clone()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	s.tools[def.ID] = saved
	return nil
}

// NewMemoryStores constructs a Stores set backed by memory.
func NewMemoryStores(blobs blob.Storage) Stores {
	return Stores{
		Threads:     NewMemoryThreadStore(),
		Messages:    NewMemoryMessageStore(),
		Runs:        NewMemoryRunStore(),
		Agents:      NewMemoryAgentStore(),
		DataSources: NewMemoryDataSourceStore(blobs),
		Tools:       NewMemoryToolStore(),
	}
}
