package memory

import (
	"context"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/models"
)

func textMessage(id, runID string, role models.Role, text string, at time.Time) *models.Message {
	msg := models.NewTextMessage(id, "thread-1", runID, role, text)
	msg.Metadata.CreatedAt = at
	return msg
}

func TestMemoryPutOrdersAndPersists(t *testing.T) {
	ctx := context.Background()
	msgs := store.NewMemoryMessageStore()
	mem := New("thread-1", msgs)

	base := time.Now().UTC()
	if err := mem.Put(ctx, textMessage("m2", "r1", models.RoleAssistant, "second", base.Add(time.Second)), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mem.Put(ctx, textMessage("m1", "r1", models.RoleUser, "first", base), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed := mem.List("")
	if len(listed) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(listed))
	}
	// Order follows CreatedAt, not insertion.
	if listed[0].ID != "m1" || listed[1].ID != "m2" {
		t.Errorf("unexpected order: %s, %s", listed[0].ID, listed[1].ID)
	}

	persisted, err := msgs.List(ctx, "thread-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(persisted) != 2 {
		t.Errorf("expected 2 persisted messages, got %d", len(persisted))
	}
}

func TestMemoryPutIdempotentByID(t *testing.T) {
	ctx := context.Background()
	msgs := store.NewMemoryMessageStore()
	mem := New("thread-1", msgs)

	at := time.Now().UTC()
	delta := textMessage("m1", "r1", models.RoleAssistant, "partial", at)
	delta.Metadata.Streaming = true
	if err := mem.Put(ctx, delta, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := textMessage("m1", "r1", models.RoleAssistant, "partial text complete", at)
	if err := mem.Put(ctx, final, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mem.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", mem.Len())
	}
	if got := mem.Last().Text(); got != "partial text complete" {
		t.Errorf("expected final snapshot, got %q", got)
	}

	// Exactly one persistent copy exists for the id.
	persisted, _ := msgs.List(ctx, "thread-1")
	if len(persisted) != 1 {
		t.Errorf("expected 1 persisted message, got %d", len(persisted))
	}
	if persisted[0].Metadata.Streaming {
		t.Error("expected persisted snapshot to be non-streaming")
	}
}

func TestMemoryPutWithoutPersist(t *testing.T) {
	ctx := context.Background()
	msgs := store.NewMemoryMessageStore()
	mem := New("thread-1", msgs)

	if err := mem.Put(ctx, textMessage("m1", "", models.RoleUser, "replay", time.Now().UTC()), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	persisted, _ := msgs.List(ctx, "thread-1")
	if len(persisted) != 0 {
		t.Errorf("expected no persisted messages, got %d", len(persisted))
	}
	if mem.Len() != 1 {
		t.Errorf("expected buffered message")
	}
}

func TestMemoryLoadMergesStore(t *testing.T) {
	ctx := context.Background()
	msgs := store.NewMemoryMessageStore()
	base := time.Now().UTC()
	if err := msgs.Save(ctx, "thread-1", textMessage("m1", "r0", models.RoleUser, "old", base)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := msgs.Save(ctx, "thread-1", textMessage("m2", "r0", models.RoleAssistant, "older reply", base.Add(time.Second))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mem := New("thread-1", msgs)
	if err := mem.Load(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.Len() != 2 {
		t.Fatalf("expected 2 messages after load, got %d", mem.Len())
	}

	// Loading again must not duplicate.
	if err := mem.Load(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.Len() != 2 {
		t.Errorf("expected load to be idempotent, got %d messages", mem.Len())
	}
}

func TestMemoryListFiltersByRun(t *testing.T) {
	ctx := context.Background()
	mem := New("thread-1", store.NewMemoryMessageStore())

	base := time.Now().UTC()
	_ = mem.Put(ctx, textMessage("m1", "r1", models.RoleUser, "one", base), false)
	_ = mem.Put(ctx, textMessage("m2", "r2", models.RoleUser, "two", base.Add(time.Second)), false)

	onlyR2 := mem.List("r2")
	if len(onlyR2) != 1 || onlyR2[0].ID != "m2" {
		t.Errorf("unexpected run filter result: %+v", onlyR2)
	}
}

func TestMemoryRejectsMessageWithoutID(t *testing.T) {
	mem := New("thread-1", store.NewMemoryMessageStore())
	if err := mem.Put(context.Background(), &models.Message{}, false); err == nil {
		t.Fatal("expected error for message without id")
	}
}
