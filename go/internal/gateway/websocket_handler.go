package gateway

import (
	"encoding/json"
	"net/http"
)

// WebSocketHandler exposes the websocket endpoint and a connection stats
// endpoint for debugging.
type WebSocketHandler struct {
	cm *ConnectionManager
}

// NewWebSocketHandler creates a handler over the connection manager.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{cm: cm}
}

// HandleSession upgrades the request to a websocket. Identity is established
// afterwards by the join commands, so the upgrade itself takes no parameters.
func (h *WebSocketHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cm.UpgradeConnection(w, r); err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleConnectionStats returns active connection counts.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.cm.ConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"active_rooms":      len(rooms),
		"room_connections":  rooms,
	})
}

// RegisterRoutes registers the websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSession)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
