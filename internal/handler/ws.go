package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/guard"
	"github.com/geoquest/platform/internal/infra"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// PositionProcessor runs one position sample through the engine.
type PositionProcessor interface {
	ProcessPosition(ctx context.Context, p domain.PositionPayload) domain.AckResult
}

// SnapshotSource provides the state sent to observers on connect.
type SnapshotSource interface {
	Riders() []*domain.Rider
	Challenges() []domain.Challenge
}

// WSHandler accepts observer connections. Every connection receives the
// broadcast stream and may submit position samples.
type WSHandler struct {
	hub      *infra.WSHub
	engine   PositionProcessor
	state    SnapshotSource
	limiter  *guard.RateLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new WSHandler. limiter may be nil to disable inbound limits.
func NewWSHandler(hub *infra.WSHub, engine PositionProcessor, state SnapshotSource, limiter *guard.RateLimiter, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:     hub,
		engine:  engine,
		state:   state,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// snapshot builds the message sent once to each new observer.
func (h *WSHandler) snapshot() any {
	snap := domain.Snapshot{
		Type:       domain.MessageSnapshot,
		Riders:     make(map[string]*domain.Rider),
		Challenges: make(map[string]domain.Challenge),
	}
	for _, r := range h.state.Riders() {
		snap.Riders[r.ID] = r.Public()
	}
	for _, ch := range h.state.Challenges() {
		snap.Challenges[ch.ID] = ch
	}
	return snap
}

// ServeHTTP handles GET /ws.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Debug("ws upgrade failed", "error", err, "remote", ClientIP(r))
		return
	}

	conn, err := h.hub.Join(h.snapshot)
	if err != nil {
		h.logger.Error("ws join failed", "error", err)
		ws.Close()
		return
	}
	Annotate(r.Context(), "conn_id", conn.ID)
	h.logger.Info("observer connected", "conn_id", conn.ID, "remote", ClientIP(r))

	go h.writePump(ws, conn)
	h.readPump(r.Context(), ws, conn)
}

func (h *WSHandler) readPump(ctx context.Context, ws *websocket.Conn, conn *infra.WSConn) {
	defer func() {
		h.hub.Leave(conn.ID)
		if h.limiter != nil {
			h.limiter.Forget(conn.ID)
		}
		ws.Close()
		h.logger.Info("observer disconnected", "conn_id", conn.ID)
	}()

	ws.SetReadLimit(maxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected websocket close", "conn_id", conn.ID, "error", err)
			}
			return
		}
		if reply := h.handleFrame(ctx, conn.ID, data); reply != nil {
			if !h.hub.SendTo(conn.ID, reply) {
				h.logger.Debug("reply dropped", "conn_id", conn.ID)
			}
		}
	}
}

// handleFrame processes one inbound frame and returns the reply for the
// sender, if any.
func (h *WSHandler) handleFrame(ctx context.Context, connID string, data []byte) any {
	if h.limiter != nil {
		if res := h.limiter.Check(ctx, connID); !res.Allowed {
			return domain.NewErrorMessage("rate limited")
		}
	}

	var in domain.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return domain.NewErrorMessage("malformed message")
	}

	switch in.Type {
	case domain.MessagePosition:
		var p domain.PositionPayload
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &p) != nil {
			return domain.NewAck(domain.AckResult{Accepted: false, Reason: domain.ReasonInvalid})
		}
		return domain.NewAck(h.engine.ProcessPosition(ctx, p))
	case domain.MessagePing:
		return map[string]string{"type": domain.MessagePong}
	default:
		return domain.NewErrorMessage("unknown message type")
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn *infra.WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Send:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// the hub closed the channel
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("ws write failed", "conn_id", conn.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
