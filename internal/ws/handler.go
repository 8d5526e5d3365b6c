package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/event"
	"github.com/mbarnett/parley/internal/pipeline"
	"github.com/mbarnett/parley/internal/registry"
)

// Handler upgrades HTTP requests to WebSocket connections and runs their
// read/write loops.
type Handler struct {
	cfg      config.HTTPConfig
	pipeline *pipeline.Pipeline
	registry *registry.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(cfg config.HTTPConfig, p *pipeline.Pipeline, reg *registry.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		pipeline: p,
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session tokens authenticate requests; origin policy is the
			// reverse proxy's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates, upgrades, and services one connection until the
// client disconnects or the registry drops it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.pipeline.AuthenticateSession(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn, err := h.registry.AddConnection(session.UserID)
	if errors.Is(err, registry.ErrConnectionLimit) {
		sock.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit exceeded"),
			time.Now().Add(time.Second),
		)
		sock.Close()
		return
	}
	if err != nil {
		sock.Close()
		return
	}

	c := &clientConn{
		h:      h,
		sock:   sock,
		conn:   conn,
		userID: session.UserID,
	}

	defer func() {
		h.registry.RemoveConnection(conn.ID)
		sock.Close()
	}()

	go c.writePump()
	c.readLoop(r)
}

// bearerToken extracts the session token from the query string or the
// Authorization header.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// clientConn is one accepted socket with its registry handle.
type clientConn struct {
	h      *Handler
	sock   *websocket.Conn
	conn   *registry.Conn
	userID uuid.UUID

	// Serializes socket writes between the pump and error replies.
	writeMu sync.Mutex
}

// write sends one frame under the configured write deadline.
func (c *clientConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.sock.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout))
	return c.sock.WriteMessage(messageType, data)
}

// writePump drains the registry's outbound channel onto the socket and keeps
// the connection alive with periodic pings. Returns when the channel closes
// or a write fails.
func (c *clientConn) writePump() {
	ticker := time.NewTicker(c.h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.conn.Events():
			if !ok {
				// Removed from the registry; tell the client before the
				// socket goes away.
				c.writeMu.Lock()
				c.sock.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				)
				c.writeMu.Unlock()
				c.sock.Close()
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.h.logger.Debug("socket write failed",
					"conn_id", c.conn.ID, "error", err)
				c.sock.Close()
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.sock.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(c.h.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.sock.Close()
				return
			}
		}
	}
}

// readLoop decodes inbound frames until the socket errors or times out.
func (c *clientConn) readLoop(r *http.Request) {
	c.sock.SetReadLimit(c.h.cfg.MaxMessageBytes)
	c.sock.SetReadDeadline(time.Now().Add(c.h.cfg.PongTimeout))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(c.h.cfg.PongTimeout))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.h.logger.Debug("socket closed unexpectedly",
					"conn_id", c.conn.ID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reject("malformed frame")
			continue
		}
		c.handleFrame(r, frame)
	}
}

// handleFrame dispatches one decoded inbound frame.
func (c *clientConn) handleFrame(r *http.Request, frame inboundFrame) {
	switch frame.Type {
	case framePostMessage:
		_, err := c.h.pipeline.CreateMessage(r.Context(), pipeline.CreateMessageInput{
			RoomID:          frame.RoomID,
			CreatorID:       c.userID,
			Content:         frame.Content,
			ClientMessageID: frame.ClientMessageID,
		})
		if err != nil {
			c.h.logger.Warn("post_message rejected",
				"user_id", c.userID,
				"room_id", frame.RoomID,
				"error", err,
			)
			c.reject(err.Error())
		}

	case frameTypingStart:
		c.h.registry.StartTyping(c.userID, frame.RoomID)
		c.h.registry.BroadcastToRoom(frame.RoomID, event.TypingStart(frame.RoomID, c.userID))

	case frameTypingStop:
		c.h.registry.StopTyping(c.userID, frame.RoomID)
		c.h.registry.BroadcastToRoom(frame.RoomID, event.TypingStop(frame.RoomID, c.userID))

	default:
		c.reject("unknown frame type")
	}
}

// reject sends an error frame back to this connection only.
func (c *clientConn) reject(reason string) {
	data, err := json.Marshal(errorFrame{Type: "error", Error: reason})
	if err != nil {
		return
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		c.h.logger.Debug("error frame write failed",
			"conn_id", c.conn.ID, "error", err)
	}
}
