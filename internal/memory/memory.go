// Package memory keeps an in-process ordered buffer of one thread's
// messages, backed by the durable message store. Every message the next
// LLM request should see is present in the buffer; every put is
// idempotent by message id.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/models"
)

// Memory is the runtime message buffer for a single thread. One instance
// exists per thread; the orchestrator and the event handler share a
// reference to it. Mutations within one run are serial, but concurrent
// runs on the same thread are tolerated.
type Memory struct {
	threadID string
	messages store.MessageStore

	mu    sync.RWMutex
	byID  map[string]*models.Message
	order []string
}

// New creates an empty buffer for the thread. Call Load to populate it
// from the store before building the first request.
func New(threadID string, messages store.MessageStore) *Memory {
	return &Memory{
		threadID: threadID,
		messages: messages,
		byID:     make(map[string]*models.Message),
	}
}

// ThreadID returns the owning thread id.
func (m *Memory) ThreadID() string {
	return m.threadID
}

// Load pulls the thread's persisted messages into the buffer. Messages
// already buffered keep their position; loading is idempotent.
func (m *Memory) Load(ctx context.Context) error {
	msgs, err := m.messages.List(ctx, m.threadID)
	if err != nil {
		return fmt.Errorf("failed to load thread %s: %w", m.threadID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if _, seen := m.byID[msg.ID]; seen {
			continue
		}
		cp := msg.Clone()
		m.byID[cp.ID] = cp
		m.order = append(m.order, cp.ID)
	}
	m.sortLocked()
	return nil
}

// Put appends the message if its id is unseen and, when persist is true,
// writes it through to the store. A message with a known id replaces the
// buffered copy in place (streaming deltas finalize this way) and is
// re-persisted so the stored snapshot matches.
func (m *Memory) Put(ctx context.Context, msg *models.Message, persist bool) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message requires an id")
	}
	cp := msg.Clone()
	if cp.ThreadID == "" {
		cp.ThreadID = m.threadID
	}

	m.mu.Lock()
	if _, seen := m.byID[cp.ID]; !seen {
		m.order = append(m.order, cp.ID)
	}
	m.byID[cp.ID] = cp
	m.sortLocked()
	m.mu.Unlock()

	if !persist {
		return nil
	}
	if err := m.messages.Save(ctx, m.threadID, cp); err != nil {
		return fmt.Errorf("failed to persist message %s: %w", cp.ID, err)
	}
	return nil
}

// List returns the buffered messages in created order. A non-empty runID
// narrows the result to messages produced by that run.
func (m *Memory) List(runID string) []*models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Message, 0, len(m.order))
	for _, id := range m.order {
		msg := m.byID[id]
		if runID != "" && msg.RunID != runID {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out
}

// Last returns the most recent message, or nil for an empty buffer.
func (m *Memory) Last() *models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil
	}
	return m.byID[m.order[len(m.order)-1]].Clone()
}

// Len reports how many messages are buffered.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Ordering invariant: append order matches created-timestamp order. The
// sort is stable so ids created in the same instant keep arrival order.
func (m *Memory) sortLocked() {
	sort.SliceStable(m.order, func(i, j int) bool {
		a := m.byID[m.order[i]].Metadata.CreatedAt
		b := m.byID[m.order[j]].Metadata.CreatedAt
		return a.Before(b)
	})
}
