package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomworks/loom/internal/blob"
	"github.com/loomworks/loom/pkg/models"
)

func redisThreadKey(threadID string) string {
	return "loom:thread:" + threadID
}

// redisThreadMessagesKey names the sorted set ordering a thread's messages
// by creation time.
func redisThreadMessagesKey(threadID string) string {
	return "loom:thread:" + threadID + ":messages"
}

func redisMessageKey(messageID string) string {
	return "loom:message:" + messageID
}

func redisRunKey(runID string) string {
	return "loom:run:" + runID
}

func redisAgentKey(agentID string) string {
	return "loom:agent:" + agentID
}

func redisDataSourceKey(fileID string) string {
	return "loom:datasource:" + fileID
}

func redisToolKey(toolID string) string {
	return "loom:tool:" + toolID
}

const (
	redisAgentIndexKey      = "loom:agents"
	redisDataSourceIndexKey = "loom:datasources"
	redisToolIndexKey       = "loom:tools"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps every record as a JSON string keyed by id, with sorted
// sets and sets as ordering and membership indexes.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to Redis and returns a fully wired store set.
func OpenRedis(ctx context.Context, opts RedisOptions, blobs blob.Storage) (Stores, error) {
	if opts.Addr == "" {
		return Stores{}, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return Stores{}, fmt.Errorf("failed to ping redis: %w", err)
	}
	s := &RedisStore{client: client}
	return Stores{
		Threads:     &redisThreadStore{s},
		Messages:    &redisMessageStore{s},
		Runs:        &redisRunStore{s},
		Agents:      &redisAgentStore{s},
		DataSources: &redisDataSourceStore{store: s, blobs: blobs},
		Tools:       &redisToolStore{s},
		closer:      client.Close,
	}, nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// getJSON unmarshals the value at key into out. The second return is false
// when the key does not exist.
func (s *RedisStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

type redisThreadStore struct {
	store *RedisStore
}

func (t *redisThreadStore) GetOrCreate(ctx context.Context, threadID, tenantID string, tags []string) (*models.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	key := redisThreadKey(threadID)
	now := time.Now().UTC()
	fresh := &models.Thread{
		ID:        threadID,
		TenantID:  tenantID,
		Tags:      append([]string(nil), tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	raw, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal thread: %w", err)
	}
	// SetNX keeps the first writer's record under concurrent creates.
	if err := t.store.client.SetNX(ctx, key, raw, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	thread := &models.Thread{}
	if _, err := t.store.getJSON(ctx, key, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

func (t *redisThreadStore) Save(ctx context.Context, thread *models.Thread) error {
	if thread == nil || thread.ID == "" {
		return fmt.Errorf("thread is required")
	}
	cp := thread.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	return t.store.setJSON(ctx, redisThreadKey(cp.ID), cp)
}

func (t *redisThreadStore) RemoteHandle(ctx context.Context, threadID string) (string, error) {
	thread := &models.Thread{}
	found, err := t.store.getJSON(ctx, redisThreadKey(threadID), thread)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return thread.ExternalID, nil
}

type redisMessageStore struct {
	store *RedisStore
}

func (m *redisMessageStore) Save(ctx context.Context, threadID string, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	if threadID == "" {
		threadID = msg.ThreadID
	}
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	cp := msg.Clone()
	cp.ThreadID = threadID
	if cp.Metadata.CreatedAt.IsZero() {
		cp.Metadata.CreatedAt = time.Now().UTC()
	}
	if err := m.store.setJSON(ctx, redisMessageKey(cp.ID), cp); err != nil {
		return err
	}
	member := redis.Z{Score: float64(cp.Metadata.CreatedAt.UnixNano()), Member: cp.ID}
	if err := m.store.client.ZAdd(ctx, redisThreadMessagesKey(threadID), member).Err(); err != nil {
		return fmt.Errorf("failed to index message: %w", err)
	}
	return nil
}

func (m *redisMessageStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	msg := &models.Message{}
	found, err := m.store.getJSON(ctx, redisMessageKey(messageID), msg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return msg, nil
}

func (m *redisMessageStore) List(ctx context.Context, threadID string) ([]*models.Message, error) {
	ids, err := m.store.client.ZRange(ctx, redisThreadMessagesKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisMessageKey(id)
	}
	values, err := m.store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	out := make([]*models.Message, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Dangling index entry.
			continue
		}
		msg := &models.Message{}
		if err := json.Unmarshal([]byte(raw), msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *redisMessageStore) UpdateToolCalls(ctx context.Context, threadID, fileID string, ds *models.DataSource) error {
	if fileID == "" || ds == nil {
		return nil
	}
	messages, err := m.List(ctx, threadID)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if !spliceFileURL(msg, fileID, ds.URL) {
			continue
		}
		if err := m.store.setJSON(ctx, redisMessageKey(msg.ID), msg); err != nil {
			return err
		}
	}
	return nil
}

type redisRunStore struct {
	store *RedisStore
}

func (r *redisRunStore) GetOrCreate(ctx context.Context, runID string) (*models.Run, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("run id is required")
	}
	key := redisRunKey(runID)
	now := time.Now().UTC()
	skeleton := &models.Run{
		ID:         runID,
		Status:     models.RunStatusStarted,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	raw, err := json.Marshal(skeleton)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal run: %w", err)
	}
	created, err := r.store.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}
	run, err := r.Get(ctx, runID)
	if err != nil {
		return nil, false, err
	}
	return run, created, nil
}

func (r *redisRunStore) Init(ctx context.Context, runID, threadID, tenantID, agentID string, tags []string) (*models.Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	run, err := r.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if run == nil {
		run = &models.Run{ID: runID, Status: models.RunStatusStarted, CreatedAt: now}
	}
	run.ThreadID = threadID
	run.TenantID = tenantID
	run.AgentID = agentID
	run.Tags = append([]string(nil), tags...)
	run.ModifiedAt = now
	if err := r.store.setJSON(ctx, redisRunKey(runID), run); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *redisRunStore) Save(ctx context.Context, run *models.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run is required")
	}
	return r.store.setJSON(ctx, redisRunKey(run.ID), run)
}

func (r *redisRunStore) Get(ctx context.Context, runID string) (*models.Run, error) {
	run := &models.Run{}
	found, err := r.store.getJSON(ctx, redisRunKey(runID), run)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return run, nil
}

type redisAgentStore struct {
	store *RedisStore
}

func (a *redisAgentStore) Get(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	agent := &models.AgentConfig{}
	found, err := a.store.getJSON(ctx, redisAgentKey(agentID), agent)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return agent, nil
}

func (a *redisAgentStore) List(ctx context.Context, filter AgentFilter) ([]*models.AgentConfig, error) {
	ids, err := a.store.client.SMembers(ctx, redisAgentIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	sort.Strings(ids)
	var out []*models.AgentConfig
	for _, id := range ids {
		agent, err := a.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			continue
		}
		if filter.Mode != "" && agent.Mode != filter.Mode {
			continue
		}
		if filter.Toolkit != "" && !agent.HasToolkit(filter.Toolkit) {
			continue
		}
		out = append(out, agent)
	}
	return out, nil
}

func (a *redisAgentStore) Put(ctx context.Context, agent *models.AgentConfig) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if err := a.store.setJSON(ctx, redisAgentKey(agent.ID), agent); err != nil {
		return err
	}
	if err := a.store.client.SAdd(ctx, redisAgentIndexKey, agent.ID).Err(); err != nil {
		return fmt.Errorf("failed to index agent: %w", err)
	}
	return nil
}

type redisDataSourceStore struct {
	store *RedisStore
	blobs blob.Storage
}

func (d *redisDataSourceStore) SaveFile(ctx context.Context, data []byte, ds *models.DataSource) (*models.DataSource, error) {
	if ds == nil || ds.FileID == "" {
		return nil, fmt.Errorf("data source is required")
	}
	meta, err := d.blobs.Save(ctx, data, ds.FileID, ds.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	ds.Store = *meta
	ds.Size = int64(len(data))
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	if ds.URL == "" {
		if url, err := d.blobs.PresignedURL(ctx, meta, ""); err == nil {
			ds.URL = url
		}
	}
	if err := d.store.setJSON(ctx, redisDataSourceKey(ds.FileID), ds); err != nil {
		return nil, err
	}
	if err := d.store.client.SAdd(ctx, redisDataSourceIndexKey, ds.FileID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index data source: %w", err)
	}
	return ds, nil
}

func (d *redisDataSourceStore) Get(ctx context.Context, fileID string) (*models.DataSource, []byte, error) {
	ds := &models.DataSource{}
	found, err := d.store.getJSON(ctx, redisDataSourceKey(fileID), ds)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	data, err := d.blobs.Get(ctx, &ds.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ds, data, nil
}

func (d *redisDataSourceStore) List(ctx context.Context) ([]*models.DataSource, error) {
	ids, err := d.store.client.SMembers(ctx, redisDataSourceIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	var out []*models.DataSource
	for _, id := range ids {
		ds := &models.DataSource{}
		found, err := d.store.getJSON(ctx, redisDataSourceKey(id), ds)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *redisDataSourceStore) Delete(ctx context.Context, fileID string) error {
	ds := &models.DataSource{}
	found, err := d.store.getJSON(ctx, redisDataSourceKey(fileID), ds)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := d.store.client.Del(ctx, redisDataSourceKey(fileID)).Err(); err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if err := d.store.client.SRem(ctx, redisDataSourceIndexKey, fileID).Err(); err != nil {
		return fmt.Errorf("failed to unindex data source: %w", err)
	}
	if err := d.blobs.Delete(ctx, &ds.Store); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

type redisToolStore struct {
	store *RedisStore
}

func (t *redisToolStore) Get(ctx context.Context, toolID string) (*models.ToolDefinition, error) {
	def := &models.ToolDefinition{}
	found, err := t.store.getJSON(ctx, redisToolKey(toolID), def)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return def, nil
}

func (t *redisToolStore) List(ctx context.Context) ([]*models.ToolDefinition, error) {
	ids, err := t.store.client.SMembers(ctx, redisToolIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	var out []*models.ToolDefinition
	for _, id := range ids {
		def, err := t.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if def == nil {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *redisToolStore) Put(ctx context.Context, def *models.ToolDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("tool is required")
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	if err := t.store.setJSON(ctx, redisToolKey(def.ID), def); err != nil {
		return err
	}
	if err := t.store.client.SAdd(ctx, redisToolIndexKey, def.ID).Err(); err != nil {
		return fmt.Errorf("failed to index tool: %w", err)
	}
	return nil
}
