package store

import (
	"context"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/blob"
	"github.com/loomworks/loom/pkg/models"
)

func TestMemoryThreadStoreGetOrCreate(t *testing.T) {
	s := NewMemoryThreadStore()
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "thread-1", "tenant-a", []string{"support"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != "thread-1" || first.TenantID != "tenant-a" {
		t.Errorf("unexpected thread: %+v", first)
	}
	if first.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	// Second call returns the existing thread, ignoring new identity args.
	second, err := s.GetOrCreate(ctx, "thread-1", "tenant-b", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.TenantID != "tenant-a" {
		t.Errorf("expected original tenant, got %q", second.TenantID)
	}

	// Mutating the returned copy must not leak into the store.
	second.Tags = append(second.Tags, "mutated")
	third, _ := s.GetOrCreate(ctx, "thread-1", "", nil)
	if len(third.Tags) != 1 {
		t.Errorf("expected 1 tag, got %v", third.Tags)
	}
}

func TestMemoryThreadStoreRemoteHandle(t *testing.T) {
	s := NewMemoryThreadStore()
	ctx := context.Background()

	handle, err := s.RemoteHandle(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != "" {
		t.Errorf("expected empty handle for missing thread, got %q", handle)
	}

	thread, _ := s.GetOrCreate(ctx, "thread-1", "", nil)
	thread.ExternalID = "thread_remote_abc"
	if err := s.Save(ctx, thread); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle, err = s.RemoteHandle(ctx, "thread-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle != "thread_remote_abc" {
		t.Errorf("expected remote handle, got %q", handle)
	}
}

func TestMemoryMessageStoreOrdering(t *testing.T) {
	s := NewMemoryMessageStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mk := func(id string, at time.Time) *models.Message {
		return &models.Message{
			ID:       id,
			Role:     models.RoleUser,
			Content:  []models.ContentBlock{{Type: models.ContentText, Text: id}},
			Metadata: models.MessageMetadata{Type: models.MessageTypeMessage, CreatedAt: at},
		}
	}

	// Saved out of creation order.
	if err := s.Save(ctx, "thread-1", mk("msg-2", base.Add(time.Second))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Save(ctx, "thread-1", mk("msg-1", base)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Save(ctx, "thread-1", mk("msg-3", base.Add(2*time.Second))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-saving is idempotent.
	if err := s.Save(ctx, "thread-1", mk("msg-2", base.Add(time.Second))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.List(ctx, "thread-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"msg-1", "msg-2", "msg-3"} {
		if got[i].ID != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, want)
		}
	}
	if got[0].ThreadID != "thread-1" {
		t.Errorf("expected thread id to be stamped, got %q", got[0].ThreadID)
	}
}

func TestMemoryMessageStoreGetNotFound(t *testing.T) {
	s := NewMemoryMessageStore()
	msg, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %+v", msg)
	}
}

func TestMemoryMessageStoreUpdateToolCalls(t *testing.T) {
	s := NewMemoryMessageStore()
	ctx := context.Background()

	msg := &models.Message{
		ID:   "msg-1",
		Role: models.RoleAssistant,
		Content: []models.ContentBlock{
			{Type: models.ContentText, Text: "here is your chart"},
			{Type: models.ContentImageFile, FileID: "file-9"},
		},
		Metadata: models.MessageMetadata{Type: models.MessageTypeImage, CreatedAt: time.Now().UTC()},
	}
	if err := s.Save(ctx, "thread-1", msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ds := &models.DataSource{FileID: "file-9", URL: "http://files.local/file-9.png"}
	if err := s.UpdateToolCalls(ctx, "thread-1", "file-9", ds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.Get(ctx, "msg-1")
	if got.Content[1].URL != ds.URL {
		t.Errorf("expected spliced url, got %q", got.Content[1].URL)
	}
	if got.Content[0].URL != "" {
		t.Errorf("text block should be untouched, got %q", got.Content[0].URL)
	}
}

func TestMemoryRunStoreGetOrCreate(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	run, created, err := s.GetOrCreate(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true on first call")
	}
	if run.Status != models.RunStatusStarted {
		t.Errorf("expected started, got %q", run.Status)
	}

	_, created, err = s.GetOrCreate(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false on second call")
	}
}

func TestMemoryRunStoreInitPreservesStatus(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	run, _, _ := s.GetOrCreate(ctx, "run-1")
	run.Status = models.RunStatusInProgress
	if err := s.Save(ctx, run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Init(ctx, "run-1", "thread-1", "tenant-a", "agent-1", []string{"beta"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.RunStatusInProgress {
		t.Errorf("init must not reset status, got %q", got.Status)
	}
	if got.ThreadID != "thread-1" || got.AgentID != "agent-1" || got.TenantID != "tenant-a" {
		t.Errorf("identity fields not applied: %+v", got)
	}
}

func TestMemoryRunStoreGetNotFound(t *testing.T) {
	s := NewMemoryRunStore()
	run, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run, got %+v", run)
	}
}

func TestMemoryAgentStoreListFilter(t *testing.T) {
	s := NewMemoryAgentStore()
	ctx := context.Background()

	agents := []*models.AgentConfig{
		{ID: "beta", Mode: models.AgentModeLocal, Toolkits: []string{"web"}},
		{ID: "alpha", Mode: models.AgentModeLocal},
		{ID: "gamma", Mode: models.AgentModeAssistant, Toolkits: []string{"web"}},
	}
	for _, a := range agents {
		if err := s.Put(ctx, a); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	all, err := s.List(ctx, AgentFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 || all[0].ID != "alpha" || all[2].ID != "gamma" {
		t.Errorf("expected sorted list, got %v", ids(all))
	}

	local, _ := s.List(ctx, AgentFilter{Mode: models.AgentModeLocal})
	if len(local) != 2 {
		t.Errorf("expected 2 local agents, got %d", len(local))
	}

	web, _ := s.List(ctx, AgentFilter{Toolkit: "web"})
	if len(web) != 2 {
		t.Errorf("expected 2 web agents, got %d", len(web))
	}

	localWeb, _ := s.List(ctx, AgentFilter{Mode: models.AgentModeLocal, Toolkit: "web"})
	if len(localWeb) != 1 || localWeb[0].ID != "beta" {
		t.Errorf("expected [beta], got %v", ids(localWeb))
	}
}

func ids(agents []*models.AgentConfig) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}

func TestMemoryDataSourceStoreRoundTrip(t *testing.T) {
	blobs, err := blob.NewLocalStorage(t.TempDir(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := NewMemoryDataSourceStore(blobs)
	ctx := context.Background()

	payload := []byte("hello, file")
	saved, err := s.SaveFile(ctx, payload, &models.DataSource{FileID: "file-1", Name: "notes.txt", ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), saved.Size)
	}
	if saved.Store.Backend != "local" {
		t.Errorf("expected local backend, got %q", saved.Store.Backend)
	}

	ds, data, err := s.Get(ctx, "file-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds == nil || string(data) != string(payload) {
		t.Fatalf("round trip failed: ds=%+v data=%q", ds, data)
	}

	missing, bytes, err := s.Get(ctx, "file-2")
	if err != nil || missing != nil || bytes != nil {
		t.Errorf("expected nil results for miss, got %v %v %v", missing, bytes, err)
	}

	if err := s.Delete(ctx, "file-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "file-1"); err != nil {
		t.Errorf("delete must be idempotent, got %v", err)
	}
}

func TestMemoryToolStore(t *testing.T) {
	s := NewMemoryToolStore()
	ctx := context.Background()

	defs := []*models.ToolDefinition{
		{ID: "t2", Name: "web_browser"},
		{ID: "t1", Name: "end_run"},
	}
	for _, d := range defs {
		if err := s.Put(ctx, d); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Name != "end_run" {
		t.Errorf("expected sorted by name, got %+v", got)
	}

	missing, err := s.Get(ctx, "t3")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for miss, got %v %v", missing, err)
	}
}
