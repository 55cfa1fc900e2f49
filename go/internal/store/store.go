// Package store holds the durable-store boundary for room aggregates. Two
// backends exist: an in-memory map for single-node deployments and tests, and
// a Postgres-backed store that persists each room as one JSONB document.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// ErrNotFound is returned when a room code does not resolve to a room.
var ErrNotFound = errors.New("room not found in store")

// Store is the durable boundary the registry reads and writes rooms through.
// The registry serializes access per room, so implementations only need to be
// safe for concurrent use across different rooms.
type Store interface {
	// CreateRoom persists a new room aggregate.
	CreateRoom(ctx context.Context, room *models.Room) error
	// GetRoom loads the aggregate for a canonical room code.
	GetRoom(ctx context.Context, code string) (*models.Room, error)
	// SaveRoom overwrites the aggregate for room.Code.
	SaveRoom(ctx context.Context, room *models.Room) error
	// DeleteIdleBefore removes rooms whose UpdatedAt is older than cutoff and
	// returns the codes of the rooms removed.
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close()
}
