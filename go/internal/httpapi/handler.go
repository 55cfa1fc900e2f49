// Package httpapi exposes the thin REST surface for room creation and
// lookup. No state-machine logic lives here; both endpoints are direct calls
// into the room registry.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sprintpoker/go/internal/models"
	"github.com/mcdev12/sprintpoker/go/internal/room"
)

// Pinger reports store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the room REST endpoints.
type Handler struct {
	registry *room.Registry
	pinger   Pinger
}

// NewHandler creates the REST handler.
func NewHandler(registry *room.Registry, pinger Pinger) *Handler {
	return &Handler{registry: registry, pinger: pinger}
}

// RegisterRoutes registers the REST routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.CreateRoom)
	mux.HandleFunc("GET /api/rooms/{code}", h.GetRoom)
	mux.HandleFunc("GET /api/health", h.Health)
}

type createRoomRequest struct {
	HostName string `json:"hostName"`
	RoomName string `json:"roomName,omitempty"`
	AvatarID string `json:"avatarId,omitempty"`
}

type createRoomResponse struct {
	Room *models.RoomView `json:"room"`
	Host *models.User     `json:"host"`
}

// CreateRoom handles POST /api/rooms.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, host, err := h.registry.CreateRoom(r.Context(), req.HostName, req.RoomName, req.AvatarID)
	if err != nil {
		if errors.Is(err, room.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("failed to create room")
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	writeJSON(w, http.StatusCreated, createRoomResponse{Room: created.View(), Host: host})
}

type lookupRoomResponse struct {
	Room   *models.RoomView `json:"room,omitempty"`
	Exists bool             `json:"exists"`
}

// GetRoom handles GET /api/rooms/{code}.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	view, err := h.registry.Lookup(r.Context(), code)
	if errors.Is(err, room.ErrRoomNotFound) {
		writeJSON(w, http.StatusNotFound, lookupRoomResponse{Exists: false})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to look up room")
		writeError(w, http.StatusInternalServerError, "failed to look up room")
		return
	}

	writeJSON(w, http.StatusOK, lookupRoomResponse{Room: view, Exists: true})
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeStatus := "connected"
	status := http.StatusOK
	if err := h.pinger.Ping(ctx); err != nil {
		storeStatus = "disconnected"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{
		"status":    "ok",
		"store":     storeStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
