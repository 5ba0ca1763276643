// Package conn fans outbound frames to channel subscribers. The manager
// keeps an in-process channel table; subscribers are opaque transports
// (websocket sessions, SSE streams, test recorders).
package conn

import (
	"context"
	"sync"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

// Subscriber receives frames for one channel. Send blocks until the frame
// is accepted; a slow subscriber therefore throttles the run that is
// streaming to it.
type Subscriber interface {
	Send(ctx context.Context, frame *models.Frame) error
}

// Manager tracks which subscribers listen on which channel and fans
// broadcast frames out to them. Delivery is best effort: subscriber
// failures are logged, not propagated.
type Manager interface {
	Connect(channelID string, sub Subscriber)
	Disconnect(channelID string, sub Subscriber)
	Broadcast(ctx context.Context, channelID string, frame *models.Frame) error
}

// ChannelManager is the default Manager backed by an in-process table.
type ChannelManager struct {
	mu       sync.RWMutex
	channels map[string]map[Subscriber]struct{}
	logger   *observability.Logger
}

// NewChannelManager creates an empty channel table.
func NewChannelManager(logger *observability.Logger) *ChannelManager {
	return &ChannelManager{
		channels: make(map[string]map[Subscriber]struct{}),
		logger:   logger,
	}
}

func (m *ChannelManager) Connect(channelID string, sub Subscriber) {
	if channelID == "" || sub == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.channels[channelID]
	if !ok {
		subs = make(map[Subscriber]struct{})
		m.channels[channelID] = subs
	}
	subs[sub] = struct{}{}
}

func (m *ChannelManager) Disconnect(channelID string, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.channels[channelID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(m.channels, channelID)
	}
}

// Broadcast sends the frame to every subscriber currently on the channel.
// The subscriber set is snapshotted first so no lock is held across sends.
func (m *ChannelManager) Broadcast(ctx context.Context, channelID string, frame *models.Frame) error {
	if frame == nil {
		return nil
	}
	m.mu.RLock()
	subs := make([]Subscriber, 0, len(m.channels[channelID]))
	for sub := range m.channels[channelID] {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.Send(ctx, frame); err != nil && m.logger != nil {
			m.logger.Warn(ctx, "frame delivery failed",
				"channel_id", channelID,
				"run_id", frame.RunID,
				"event", string(frame.Event),
				"error", err)
		}
	}
	return nil
}

// Subscribers reports how many subscribers are connected to the channel.
func (m *ChannelManager) Subscribers(channelID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels[channelID])
}

// NoopManager discards every frame. Used by CLI entry points and tests
// that do not care about delivery.
type NoopManager struct{}

func (NoopManager) Connect(string, Subscriber)    {}
func (NoopManager) Disconnect(string, Subscriber) {}
func (NoopManager) Broadcast(context.Context, string, *models.Frame) error {
	return nil
}
