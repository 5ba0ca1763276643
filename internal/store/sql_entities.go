package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/blob"
	"github.com/loomworks/loom/pkg/models"
)

type sqlRunStore struct {
	store *SQLStore
}

func (r *sqlRunStore) GetOrCreate(ctx context.Context, runID string) (*models.Run, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("run id is required")
	}
	now := time.Now().UTC()
	res, err := r.store.stmtInsertRun.ExecContext(ctx, runID, string(models.RunStatusStarted), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}
	run, err := r.Get(ctx, runID)
	if err != nil {
		return nil, false, err
	}
	return run, created, nil
}

func (r *sqlRunStore) Init(ctx context.Context, runID, threadID, tenantID, agentID string, tags []string) (*models.Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.store.stmtInitRun.ExecContext(ctx,
		runID, threadID, tenantID, agentID, string(models.RunStatusStarted), tagsJSON, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to init run: %w", err)
	}
	return r.Get(ctx, runID)
}

func (r *sqlRunStore) Save(ctx context.Context, run *models.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run is required")
	}
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	usageJSON, err := json.Marshal(run.Usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}
	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tagsJSON, err := json.Marshal(run.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	modifiedAt := run.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = time.Now().UTC()
	}
	_, err = r.store.stmtSaveRun.ExecContext(ctx,
		run.ID, run.ThreadID, run.TenantID, run.AgentID, run.ExternalID,
		string(run.Status), stepsJSON, usageJSON, metadataJSON, tagsJSON,
		createdAt, modifiedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (r *sqlRunStore) Get(ctx context.Context, runID string) (*models.Run, error) {
	run := &models.Run{}
	var status string
	var stepsJSON, usageJSON, metadataJSON, tagsJSON []byte
	err := r.store.stmtGetRun.QueryRowContext(ctx, runID).Scan(
		&run.ID,
		&run.ThreadID,
		&run.TenantID,
		&run.AgentID,
		&run.ExternalID,
		&status,
		&stepsJSON,
		&usageJSON,
		&metadataJSON,
		&tagsJSON,
		&run.CreatedAt,
		&run.ModifiedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Status = models.RunStatus(status)
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &run.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	if len(usageJSON) > 0 {
		if err := json.Unmarshal(usageJSON, &run.Usage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usage: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &run.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return run, nil
}

type sqlAgentStore struct {
	store *SQLStore
}

func (a *sqlAgentStore) Get(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	var configJSON []byte
	err := a.store.stmtGetAgent.QueryRowContext(ctx, agentID).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	agent := &models.AgentConfig{}
	if err := json.Unmarshal(configJSON, agent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
	}
	return agent, nil
}

func (a *sqlAgentStore) List(ctx context.Context, filter AgentFilter) ([]*models.AgentConfig, error) {
	rows, err := a.store.stmtListAgents.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentConfig
	for rows.Next() {
		var configJSON []byte
		if err := rows.Scan(&configJSON); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agent := &models.AgentConfig{}
		if err := json.Unmarshal(configJSON, agent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
		}
		if filter.Mode != "" && agent.Mode != filter.Mode {
			continue
		}
		if filter.Toolkit != "" && !agent.HasToolkit(filter.Toolkit) {
			continue
		}
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agents: %w", err)
	}
	return out, nil
}

func (a *sqlAgentStore) Put(ctx context.Context, agent *models.AgentConfig) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent is required")
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	configJSON, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to marshal agent config: %w", err)
	}
	if _, err := a.store.stmtPutAgent.ExecContext(ctx, agent.ID, configJSON, agent.CreatedAt, agent.UpdatedAt); err != nil {
		return fmt.Errorf("failed to put agent: %w", err)
	}
	return nil
}

type sqlDataSourceStore struct {
	store *SQLStore
	blobs blob.Storage
}

func (d *sqlDataSourceStore) SaveFile(ctx context.Context, data []byte, ds *models.DataSource) (*models.DataSource, error) {
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
	storeJSON, err := json.Marshal(ds.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal store metadata: %w", err)
	}
	_, err = d.store.stmtPutDataSource.ExecContext(ctx,
		ds.FileID, ds.Name, ds.ContentType, ds.Size, storeJSON, ds.URL, ds.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save data source: %w", err)
	}
	return ds, nil
}

func scanDataSource(scan func(...any) error) (*models.DataSource, error) {
	ds := &models.DataSource{}
	var storeJSON []byte
	if err := scan(&ds.FileID, &ds.Name, &ds.ContentType, &ds.Size, &storeJSON, &ds.URL, &ds.CreatedAt); err != nil {
		return nil, err
	}
	if len(storeJSON) > 0 {
		if err := json.Unmarshal(storeJSON, &ds.Store); err != nil {
			return nil, fmt.Errorf("failed to unmarshal store metadata: %w", err)
		}
	}
	return ds, nil
}

func (d *sqlDataSourceStore) Get(ctx context.Context, fileID string) (*models.DataSource, []byte, error) {
	row := d.store.stmtGetDataSource.QueryRowContext(ctx, fileID)
	ds, err := scanDataSource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get data source: %w", err)
	}
	data, err := d.blobs.Get(ctx, &ds.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ds, data, nil
}

func (d *sqlDataSourceStore) List(ctx context.Context) ([]*models.DataSource, error) {
	rows, err := d.store.stmtListSources.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var out []*models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data sources: %w", err)
	}
	return out, nil
}

func (d *sqlDataSourceStore) Delete(ctx context.Context, fileID string) error {
	row := d.store.stmtGetDataSource.QueryRowContext(ctx, fileID)
	ds, err := scanDataSource(row.Scan)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get data source: %w", err)
	}
	if _, err := d.store.stmtDropSource.ExecContext(ctx, fileID); err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if err := d.blobs.Delete(ctx, &ds.Store); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

type sqlToolStore struct {
	store *SQLStore
}

func (t *sqlToolStore) Get(ctx context.Context, toolID string) (*models.ToolDefinition, error) {
	def := &models.ToolDefinition{}
	var params []byte
	err := t.store.stmtGetTool.QueryRowContext(ctx, toolID).Scan(
		&def.ID, &def.Name, &def.Description, &params, &def.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool: %w", err)
	}
	def.Parameters = json.RawMessage(params)
	return def, nil
}

func (t *sqlToolStore) List(ctx context.Context) ([]*models.ToolDefinition, error) {
	rows, err := t.store.stmtListTools.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolDefinition
	for rows.Next() {
		def := &models.ToolDefinition{}
		var params []byte
		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &params, &def.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		def.Parameters = json.RawMessage(params)
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tools: %w", err)
	}
	return out, nil
}

func (t *sqlToolStore) Put(ctx context.Context, def *models.ToolDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("tool is required")
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	params := def.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if _, err := t.store.stmtPutTool.ExecContext(ctx, def.ID, def.Name, def.Description, []byte(params), def.CreatedAt); err != nil {
		return fmt.Errorf("failed to put tool: %w", err)
	}
	return nil
}
