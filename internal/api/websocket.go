package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tennis-onboard/internal/agent"
	"github.com/ashureev/tennis-onboard/internal/identity"
)

// socketWriteTimeout bounds a single frame write.
const socketWriteTimeout = 10 * time.Second

// SocketHandler streams turns of a live session over a WebSocket.
type SocketHandler struct {
	registry      *agent.Registry
	sockets       *SocketRegistry
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewSocketHandler creates a new WebSocket handler. sockets may be nil.
func NewSocketHandler(reg *agent.Registry, sockets *SocketRegistry, limiter *RateLimiter, allowedOrigin string, isDev bool) *SocketHandler {
	if sockets == nil {
		sockets = NewSocketRegistry()
	}
	return &SocketHandler{
		registry:      reg,
		sockets:       sockets,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *SocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/onboarding/{id}", h.ServeHTTP)
}

// socketMessage is a client or server frame.
type socketMessage struct {
	Type   string            `json:"type"`
	Text   string            `json:"text,omitempty"`
	Result *agent.TurnResult `json:"result,omitempty"`
	Path   string            `json:"location,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if _, err := h.registry.Get(userID, sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sockets.Register(sessionID, ws)
	defer h.sockets.Unregister(sessionID, ws)

	slog.Info("Onboarding socket opened", "user_id", userID, "session_id", sessionID)
	h.readLoop(r.Context(), ws, userID, sessionID)
	slog.Info("Onboarding socket closed", "user_id", userID, "session_id", sessionID)
}

func (h *SocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop resolves the session on every frame so that a reset or reload
// is seen by an open socket.
func (h *SocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, socketMessage{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		c, err := h.registry.Get(userID, sessionID)
		if err != nil {
			_ = h.writeJSON(ctx, ws, socketMessage{Type: "error", Error: "session not found"})
			return
		}
		reply := h.dispatch(ctx, c, userID, msg)
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *SocketHandler) dispatch(ctx context.Context, c *agent.Controller, userID string, msg socketMessage) socketMessage {
	switch msg.Type {
	case "ping":
		return socketMessage{Type: "pong"}
	case "turn":
		if h.limiter != nil && !h.limiter.Allow(userID) {
			return socketMessage{Type: "error", Error: "rate limit exceeded"}
		}
		res, err := c.Turn(ctx, msg.Text)
		if err != nil {
			return socketMessage{Type: "error", Error: err.Error()}
		}
		return socketMessage{Type: "turn_result", Result: res}
	case "save":
		path, err := c.Save(ctx)
		if err != nil {
			slog.Error("Failed to save session", "error", err, "session_id", c.SessionID())
			return socketMessage{Type: "error", Error: "failed to save session"}
		}
		return socketMessage{Type: "saved", Path: filepath.Base(path)}
	default:
		return socketMessage{Type: "error", Error: "unknown message type"}
	}
}

func (h *SocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
