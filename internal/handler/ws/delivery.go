// Package ws exposes the live connection protocol: an upgradeable
// bidirectional channel over which the server pushes envelope-derived
// notifications and clients send join/leave-scope requests and liveness
// acknowledgments.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/decisio/eventcore/internal/domain/registry"
	wsmarshaller "github.com/decisio/eventcore/internal/handler/marshaller/ws"
	"github.com/decisio/eventcore/internal/service"
)

// Identifier extracts the authenticated identity from the upgrade request.
// Authentication itself is owned by the surrounding application; this core
// only consumes the result.
type Identifier func(r *http.Request) (string, error)

// Config mirrors config.WS; mapped in the cmd layer.
type Config struct {
	MaxMessageSize int64
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
}

func (c *Config) defaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 5 / 6
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
}

// clientMessage is what clients may send: scope management and liveness.
type clientMessage struct {
	Action string `json:"action"` // "join", "leave", "ping"
	Scope  string `json:"scope,omitempty"`
}

type WSHandler struct {
	log       *slog.Logger
	deliverer service.Deliverer
	identify  Identifier
	messages  *service.Limiter
	cfg       Config
	upgrader  websocket.Upgrader
}

func NewWSHandler(log *slog.Logger, deliverer service.Deliverer, identify Identifier, limiters *service.AdmissionLimiters, cfg Config) *WSHandler {
	cfg.defaults()
	return &WSHandler{
		log:       log.With("component", "ws"),
		deliverer: deliverer,
		identify:  identify,
		messages:  limiters.Messages,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// session serializes writes; the read pump and the write pump both emit
// frames and gorilla permits one writer at a time.
type session struct {
	ws        *websocket.Conn
	mu        sync.Mutex
	writeWait time.Duration
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.ws.WriteMessage(messageType, data)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identify(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sess := &session{ws: ws, writeWait: h.cfg.WriteWait}

	conn, err := h.deliverer.Connect(r.Context(), identity)
	if err != nil {
		h.reject(sess, err)
		return
	}
	defer h.deliverer.Disconnect(conn)
	defer h.messages.Forget(service.MessageKey(conn.GetID()))

	if data, err := wsmarshaller.MarshalConnected(conn.GetID().String()); err == nil {
		if err := sess.write(websocket.TextMessage, data); err != nil {
			return
		}
	}
	h.log.Info("ws opened", "identity", identity, "conn_id", conn.GetID())

	ctx := r.Context()
	var g errgroup.Group
	g.Go(func() error { return h.readPump(ctx, sess, conn) })
	g.Go(func() error { return h.writePump(sess, conn) })
	if err := g.Wait(); err != nil && !isClosing(err) {
		h.log.Warn("ws closed with error", "conn_id", conn.GetID(), "error", err)
	}
}

// reject reports a refused connection before closing. Admission rejections
// carry the retry-after hint.
func (h *WSHandler) reject(sess *session, err error) {
	code := "internal"
	retryAfter := time.Duration(0)
	if errors.Is(err, service.ErrAdmission) {
		code = "admission_limited"
		retryAfter = time.Second
	}
	if data, mErr := wsmarshaller.MarshalError(code, err.Error(), retryAfter); mErr == nil {
		_ = sess.write(websocket.TextMessage, data)
	}
	_ = sess.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(h.cfg.WriteWait))
}

// readPump consumes client frames. It enforces the message size cap (an
// oversized frame terminates the connection), the per-connection message
// rate, and the heartbeat liveness window.
func (h *WSHandler) readPump(ctx context.Context, sess *session, conn registry.Connector) error {
	ws := sess.ws
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}
		conn.Touch()

		if ok, retryAfter := h.messages.Allow(service.MessageKey(conn.GetID())); !ok {
			h.sendError(sess, "rate_limited", "message rate exceeded", retryAfter)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(sess, "bad_request", "malformed message", 0)
			continue
		}

		switch msg.Action {
		case "ping":
			ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		case "join":
			if err := h.deliverer.Join(ctx, conn, msg.Scope); err != nil {
				h.sendError(sess, "join_denied", err.Error(), 0)
			}
		case "leave":
			h.deliverer.Leave(conn, msg.Scope)
		default:
			h.sendError(sess, "bad_request", "unknown action", 0)
		}
	}
}

func (h *WSHandler) sendError(sess *session, code, message string, retryAfter time.Duration) {
	if frame, err := wsmarshaller.MarshalError(code, message, retryAfter); err == nil {
		_ = sess.write(websocket.TextMessage, frame)
	}
}

// writePump pushes hub deliveries and keeps the liveness probe going.
func (h *WSHandler) writePump(sess *session, conn registry.Connector) error {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-conn.Recv():
			if !ok {
				// Connection closed server-side; tell the peer politely.
				_ = sess.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			data, err := wsmarshaller.MarshalEvent(env)
			if err != nil {
				h.log.Error("marshal event failed", "event_id", env.EventID, "error", err)
				continue
			}
			if err := sess.write(websocket.TextMessage, data); err != nil {
				conn.Close()
				return err
			}
		case <-ticker.C:
			if err := sess.write(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return err
			}
		}
	}
}

func isClosing(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent)
}
