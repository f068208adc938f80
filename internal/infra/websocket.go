package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// WSHub is the set of connected observers. Broadcasts never block: an
// observer whose send buffer is full is pruned and its channel closed.
type WSHub struct {
	mu         sync.RWMutex
	conns      map[string]*WSConn
	bufferSize int
	logger     *slog.Logger
}

// WSConn is one observer's outbound queue (abstracted for testability).
type WSConn struct {
	ID   string
	Send chan []byte
}

// NewWSHub creates a hub whose connections buffer bufferSize messages.
func NewWSHub(bufferSize int, logger *slog.Logger) *WSHub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &WSHub{
		conns:      make(map[string]*WSConn),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Join registers a new observer and returns its connection. When greeting is
// non-nil its result is queued first, before any broadcast can reach the
// connection.
func (h *WSHub) Join(greeting func() any) (*WSConn, error) {
	conn := &WSConn{ID: uuid.New().String(), Send: make(chan []byte, h.bufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if greeting != nil {
		payload, err := json.Marshal(greeting())
		if err != nil {
			return nil, fmt.Errorf("marshal greeting: %w", err)
		}
		conn.Send <- payload
	}
	h.conns[conn.ID] = conn
	return conn, nil
}

// Leave removes an observer and closes its send channel. Safe to call twice.
func (h *WSHub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID)
}

func (h *WSHub) removeLocked(connID string) bool {
	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	delete(h.conns, connID)
	close(conn.Send)
	return true
}

// Broadcast sends msg to every observer.
func (h *WSHub) Broadcast(msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal error", "error", err)
		return
	}

	var slow []string
	h.mu.RLock()
	for id, conn := range h.conns {
		select {
		case conn.Send <- payload:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range slow {
		if h.removeLocked(id) {
			h.logger.Warn("ws send buffer full, observer pruned", "conn_id", id)
		}
	}
	h.mu.Unlock()
}

// SendTo queues msg for a single connection. It returns false when the
// connection is gone or its buffer is full.
func (h *WSHub) SendTo(connID string, msg any) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal error", "error", err, "conn_id", connID)
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	select {
	case conn.Send <- payload:
		return true
	default:
		return false
	}
}

// ConnectionCount returns the number of connected observers.
func (h *WSHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes all connections gracefully.
func (h *WSHub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.conns {
		h.removeLocked(id)
	}
}
