package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// MemoryStore keeps room aggregates in a process-local map. Aggregates are
// deep-copied on every read and write so callers never share mutable state
// with the store, matching the read-fresh semantics of the remote backend.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*models.Room)}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) error {
	copied, err := cloneRoom(room)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.Code]; exists {
		return fmt.Errorf("room %s already exists", room.Code)
	}
	s.rooms[room.Code] = copied
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	room, ok := s.rooms[code]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRoom(room)
}

func (s *MemoryStore) SaveRoom(ctx context.Context, room *models.Room) error {
	copied, err := cloneRoom(room)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.Code]; !ok {
		return ErrNotFound
	}
	s.rooms[room.Code] = copied
	return nil
}

func (s *MemoryStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for code, room := range s.rooms {
		if room.UpdatedAt.Before(cutoff) {
			delete(s.rooms, code)
			removed = append(removed, code)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() {}

// cloneRoom deep-copies an aggregate via its JSON form. Room documents are
// small and already round-trip through JSON for persistence and broadcast.
func cloneRoom(room *models.Room) (*models.Room, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("failed to clone room %s: %w", room.Code, err)
	}
	var copied models.Room
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to clone room %s: %w", room.Code, err)
	}
	return &copied, nil
}
