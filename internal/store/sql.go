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

// dialect adapts shared SQL to a specific driver.
type dialect struct {
	name string
	// rebind rewrites $N placeholders for drivers that do not accept them.
	rebind func(string) string
}

var (
	postgresDialect = dialect{name: "postgres", rebind: func(q string) string { return q }}
	sqliteDialect   = dialect{name: "sqlite", rebind: rebindNumbered}
)

// rebindNumbered rewrites $N placeholders to SQLite's ?N form.
func rebindNumbered(query string) string {
	out := make([]byte, 0, len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			out = append(out, '?')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		steps TEXT NOT NULL DEFAULT '[]',
		token_usage TEXT NOT NULL DEFAULT '{}',
		metadata TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		modified_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs (thread_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		config TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_sources (
		file_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		size BIGINT NOT NULL DEFAULT 0,
		store TEXT NOT NULL DEFAULT '{}',
		url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		parameters TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SQLStore owns the database handle and prepared statements shared by the
// per-entity store views.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	stmts   []*sql.Stmt

	stmtInsertThread  *sql.Stmt
	stmtGetThread     *sql.Stmt
	stmtSaveThread    *sql.Stmt
	stmtRemoteHandle  *sql.Stmt
	stmtSaveMessage   *sql.Stmt
	stmtGetMessage    *sql.Stmt
	stmtListMessages  *sql.Stmt
	stmtPatchContent  *sql.Stmt
	stmtInsertRun     *sql.Stmt
	stmtInitRun       *sql.Stmt
	stmtSaveRun       *sql.Stmt
	stmtGetRun        *sql.Stmt
	stmtPutAgent      *sql.Stmt
	stmtGetAgent      *sql.Stmt
	stmtListAgents    *sql.Stmt
	stmtPutDataSource *sql.Stmt
	stmtGetDataSource *sql.Stmt
	stmtListSources   *sql.Stmt
	stmtDropSource    *sql.Stmt
	stmtPutTool       *sql.Stmt
	stmtGetTool       *sql.Stmt
	stmtListTools     *sql.Stmt
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for related stores and tests.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) prepare(dst **sql.Stmt, name, query string) error {
	stmt, err := s.db.Prepare(s.dialect.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare %s: %w", name, err)
	}
	*dst = stmt
	s.stmts = append(s.stmts, stmt)
	return nil
}

func (s *SQLStore) prepareStatements() error {
	specs := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&s.stmtInsertThread, "insert thread", `
			INSERT INTO threads (id, tenant_id, external_id, tags, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`},
		{&s.stmtGetThread, "get thread", `
			SELECT id, tenant_id, external_id, tags, created_at, updated_at
			FROM threads WHERE id = $1`},
		{&s.stmtSaveThread, "save thread", `
			INSERT INTO threads (id, tenant_id, external_id, tags, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				tenant_id = excluded.tenant_id,
				external_id = excluded.external_id,
				tags = excluded.tags,
				updated_at = excluded.updated_at`},
		{&s.stmtRemoteHandle, "remote handle", `
			SELECT external_id FROM threads WHERE id = $1`},
		{&s.stmtSaveMessage, "save message", `
			INSERT INTO messages (id, thread_id, run_id, role, content, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				run_id = excluded.run_id,
				role = excluded.role,
				content = excluded.content,
				metadata = excluded.metadata`},
		{&s.stmtGetMessage, "get message", `
			SELECT id, thread_id, run_id, role, content, metadata
			FROM messages WHERE id = $1`},
		{&s.stmtListMessages, "list messages", `
			SELECT id, thread_id, run_id, role, content, metadata
			FROM messages WHERE thread_id = $1
			ORDER BY created_at ASC`},
		{&s.stmtPatchContent, "patch message content", `
			UPDATE messages SET content = $1 WHERE id = $2`},
		{&s.stmtInsertRun, "insert run", `
			INSERT INTO runs (id, status, created_at, modified_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`},
		{&s.stmtInitRun, "init run", `
			INSERT INTO runs (id, thread_id, tenant_id, agent_id, status, tags, created_at, modified_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				thread_id = excluded.thread_id,
				tenant_id = excluded.tenant_id,
				agent_id = excluded.agent_id,
				tags = excluded.tags,
				modified_at = excluded.modified_at`},
		{&s.stmtSaveRun, "save run", `
			INSERT INTO runs (id, thread_id, tenant_id, agent_id, external_id, status, steps, token_usage, metadata, tags, created_at, modified_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				thread_id = excluded.thread_id,
				tenant_id = excluded.tenant_id,
				agent_id = excluded.agent_id,
				external_id = excluded.external_id,
				status = excluded.status,
				steps = excluded.steps,
				token_usage = excluded.token_usage,
				metadata = excluded.metadata,
				tags = excluded.tags,
				modified_at = excluded.modified_at`},
		{&s.stmtGetRun, "get run", `
			SELECT id, thread_id, tenant_id, agent_id, external_id, status, steps, token_usage, metadata, tags, created_at, modified_at
			FROM runs WHERE id = $1`},
		{&s.stmtPutAgent, "put agent", `
			INSERT INTO agents (id, config, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				config = excluded.config,
				updated_at = excluded.updated_at`},
		{&s.stmtGetAgent, "get agent", `
			SELECT config FROM agents WHERE id = $1`},
		{&s.stmtListAgents, "list agents", `
			SELECT config FROM agents ORDER BY id ASC`},
		{&s.stmtPutDataSource, "put data source", `
			INSERT INTO data_sources (file_id, name, content_type, size, store, url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (file_id) DO UPDATE SET
				name = excluded.name,
				content_type = excluded.content_type,
				size = excluded.size,
				store = excluded.store,
				url = excluded.url`},
		{&s.stmtGetDataSource, "get data source", `
			SELECT file_id, name, content_type, size, store, url, created_at
			FROM data_sources WHERE file_id = $1`},
		{&s.stmtListSources, "list data sources", `
			SELECT file_id, name, content_type, size, store, url, created_at
			FROM data_sources ORDER BY created_at ASC`},
		{&s.stmtDropSource, "delete data source", `
			DELETE FROM data_sources WHERE file_id = $1`},
		{&s.stmtPutTool, "put tool", `
			INSERT INTO tools (id, name, description, parameters, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				parameters = excluded.parameters`},
		{&s.stmtGetTool, "get tool", `
			SELECT id, name, description, parameters, created_at
			FROM tools WHERE id = $1`},
		{&s.stmtListTools, "list tools", `
			SELECT id, name, description, parameters, created_at
			FROM tools ORDER BY name ASC`},
	}
	for _, spec := range specs {
		if err := s.prepare(spec.dst, spec.name, spec.query); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the prepared statements and the database handle.
func (s *SQLStore) Close() error {
	var errs []error
	for _, stmt := range s.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

// Stores returns a Stores set with every interface backed by this handle.
func (s *SQLStore) Stores(blobs blob.Storage) Stores {
	return Stores{
		Threads:     &sqlThreadStore{s},
		Messages:    &sqlMessageStore{s},
		Runs:        &sqlRunStore{s},
		Agents:      &sqlAgentStore{s},
		DataSources: &sqlDataSourceStore{store: s, blobs: blobs},
		Tools:       &sqlToolStore{s},
		closer:      s.Close,
	}
}

type sqlThreadStore struct {
	store *SQLStore
}

func (t *sqlThreadStore) GetOrCreate(ctx context.Context, threadID, tenantID string, tags []string) (*models.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	now := time.Now().UTC()
	if _, err := t.store.stmtInsertThread.ExecContext(ctx, threadID, tenantID, "", tagsJSON, now, now); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return t.get(ctx, threadID)
}

func (t *sqlThreadStore) get(ctx context.Context, threadID string) (*models.Thread, error) {
	thread := &models.Thread{}
	var tagsJSON []byte
	err := t.store.stmtGetThread.QueryRowContext(ctx, threadID).Scan(
		&thread.ID,
		&thread.TenantID,
		&thread.ExternalID,
		&tagsJSON,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &thread.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return thread, nil
}

func (t *sqlThreadStore) Save(ctx context.Context, thread *models.Thread) error {
	if thread == nil || thread.ID == "" {
		return fmt.Errorf("thread is required")
	}
	tagsJSON, err := json.Marshal(thread.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	createdAt := thread.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = t.store.stmtSaveThread.ExecContext(ctx,
		thread.ID, thread.TenantID, thread.ExternalID, tagsJSON, createdAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

func (t *sqlThreadStore) RemoteHandle(ctx context.Context, threadID string) (string, error) {
	var externalID string
	err := t.store.stmtRemoteHandle.QueryRowContext(ctx, threadID).Scan(&externalID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get remote handle: %w", err)
	}
	return externalID, nil
}

type sqlMessageStore struct {
	store *SQLStore
}

func (m *sqlMessageStore) Save(ctx context.Context, threadID string, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	if threadID == "" {
		threadID = msg.ThreadID
	}
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	createdAt := msg.Metadata.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = m.store.stmtSaveMessage.ExecContext(ctx,
		msg.ID, threadID, msg.RunID, string(msg.Role), contentJSON, metadataJSON, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func scanMessage(scan func(...any) error) (*models.Message, error) {
	msg := &models.Message{}
	var role string
	var contentJSON, metadataJSON []byte
	if err := scan(&msg.ID, &msg.ThreadID, &msg.RunID, &role, &contentJSON, &metadataJSON); err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return msg, nil
}

func (m *sqlMessageStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	row := m.store.stmtGetMessage.QueryRowContext(ctx, messageID)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (m *sqlMessageStore) List(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := m.store.stmtListMessages.QueryContext(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return out, nil
}

func (m *sqlMessageStore) UpdateToolCalls(ctx context.Context, threadID, fileID string, ds *models.DataSource) error {
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
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("failed to marshal content: %w", err)
		}
		if _, err := m.store.stmtPatchContent.ExecContext(ctx, contentJSON, msg.ID); err != nil {
			return fmt.Errorf("failed to patch message content: %w", err)
		}
	}
	return nil
}
