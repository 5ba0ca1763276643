package conn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 45 * time.Second
	wsPingPeriod     = 15 * time.Second
	wsMaxPayloadSize = 1 << 20
	wsSendQueueSize  = 64
)

// ErrSessionClosed is returned by Send after the session has shut down.
var ErrSessionClosed = errors.New("websocket session closed")

// NewUpgrader returns the upgrader used by the gateway's websocket
// endpoints.
func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
}

// WSSession adapts one upgraded websocket connection into a Subscriber.
// Outbound frames flow through a bounded send queue drained by the write
// pump; when the queue is full, Send blocks, which is the backpressure
// that suspends a streaming run.
type WSSession struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *observability.Logger
}

// NewWSSession wraps an upgraded connection. The caller must invoke Run to
// start the pumps.
func NewWSSession(conn *websocket.Conn, logger *observability.Logger) *WSSession {
	return &WSSession{
		conn:   conn,
		send:   make(chan []byte, wsSendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues a frame for the write pump.
func (s *WSSession) Send(ctx context.Context, frame *models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the write pump and blocks in the read pump until the peer
// disconnects or ctx ends. Each inbound text message is handed to
// onMessage; the session stays opaque about its content.
func (s *WSSession) Run(ctx context.Context, onMessage func(context.Context, []byte)) {
	go s.writePump()
	s.readPump(ctx, onMessage)
	s.Close()
}

// Close shuts the session down. Safe to call more than once.
func (s *WSSession) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *WSSession) readPump(ctx context.Context, onMessage func(context.Context, []byte)) {
	s.conn.SetReadLimit(wsMaxPayloadSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if onMessage != nil {
			onMessage(ctx, data)
		}
	}
}

func (s *WSSession) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}
