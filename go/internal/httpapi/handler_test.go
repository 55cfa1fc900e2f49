package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/sprintpoker/go/internal/models"
	"github.com/mcdev12/sprintpoker/go/internal/room"
	"github.com/mcdev12/sprintpoker/go/internal/store"
)

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, *room.Event)               {}
func (noopBroadcaster) BroadcastToUser(string, string, *room.Event) {}
func (noopBroadcaster) BroadcastExcept(string, string, *room.Event) {}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestHandler(t *testing.T) (*room.Registry, http.Handler) {
	t.Helper()
	st := store.NewMemoryStore()
	registry := room.NewRegistry(st, clockwork.NewFakeClock(), noopBroadcaster{})

	mux := http.NewServeMux()
	NewHandler(registry, st).RegisterRoutes(mux)
	return registry, mux
}

func TestCreateRoomEndpoint(t *testing.T) {
	_, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms",
		strings.NewReader(`{"hostName":"Alice","roomName":"Sprint 12"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Room *models.RoomView `json:"room"`
		Host *models.User     `json:"host"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Room.Name != "Sprint 12" {
		t.Errorf("room name = %q, want Sprint 12", resp.Room.Name)
	}
	if resp.Host.Role != models.UserRoleHost || resp.Host.ID != resp.Room.HostID {
		t.Errorf("host = %+v, want the room's host", resp.Host)
	}
}

func TestCreateRoomRejectsMissingHostName(t *testing.T) {
	_, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"roomName":"x"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRoomRejectsMalformedBody(t *testing.T) {
	_, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetRoomEndpoint(t *testing.T) {
	registry, mux := newTestHandler(t)

	created, _, err := registry.CreateRoom(context.Background(), "Alice", "", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/"+created.Code, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Room   *models.RoomView `json:"room"`
		Exists bool             `json:"exists"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Exists || resp.Room.Code != created.Code {
		t.Errorf("response = %+v, want the created room", resp)
	}
}

func TestGetRoomUnknownCode(t *testing.T) {
	_, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/NOPE1234", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Exists {
		t.Error("exists = true, want false")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHealthEndpointStoreDown(t *testing.T) {
	registry := room.NewRegistry(store.NewMemoryStore(), clockwork.NewFakeClock(), noopBroadcaster{})
	mux := http.NewServeMux()
	NewHandler(registry, failingPinger{}).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
