package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/jamsession/internal/config"
)

// Handler serves the HTTP surface of the gateway.
type Handler struct {
	hub      *Hub
	wsConfig config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler builds the HTTP handlers for hub. Origins not listed in
// cfg.AllowedOrigins are refused at upgrade time.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, logger *slog.Logger) *Handler {
	logger = logger.With("component", "http")
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Handler{
		hub:      hub,
		wsConfig: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logger,
	}
}

// WebSocket upgrades the request and hands the connection to the hub, which
// issues its id and starts the pumps.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.wsConfig)
	if !h.hub.Register(client) {
		h.logger.Info("hub stopped; refusing connection", "remote", r.RemoteAddr)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// Health reports that the server is up.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Jam session server is running!")
}

// Rooms returns the current room directory as JSON.
func (h *Handler) Rooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.Registry().Directory()); err != nil {
		h.logger.Error("writing rooms response", "err", err)
	}
}
