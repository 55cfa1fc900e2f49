package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

func testRoom(code string, updatedAt time.Time) *models.Room {
	return &models.Room{
		Code:     code,
		Name:     "Room " + code,
		HostID:   "host-1",
		Settings: models.DefaultRoomSettings(),
		Users: []*models.User{{
			ID:          "host-1",
			RoomCode:    code,
			DisplayName: "Alice",
			Role:        models.UserRoleHost,
			Connected:   true,
		}},
		Stories:   []*models.Story{},
		Votes:     make(models.VoteSet),
		Status:    models.RoomStatusActive,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	original := testRoom("ABCD1234", now)
	original.Votes["story-1"] = map[string]models.Vote{
		"host-1": {Value: models.NumericValue(5), Timestamp: now},
	}
	if err := s.CreateRoom(ctx, original); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	loaded, err := s.GetRoom(ctx, "ABCD1234")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if loaded.Name != original.Name || len(loaded.Users) != 1 {
		t.Errorf("loaded = %+v, want the stored aggregate", loaded)
	}
	vote := loaded.Votes["story-1"]["host-1"]
	if !vote.Value.Numeric || vote.Value.Number != 5 {
		t.Errorf("vote = %+v, want numeric 5", vote.Value)
	}
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := testRoom("ABCD1234", time.Now().UTC())
	if err := s.CreateRoom(ctx, original); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	original.Users[0].DisplayName = "Mallory"
	first, err := s.GetRoom(ctx, "ABCD1234")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if first.Users[0].DisplayName != "Alice" {
		t.Error("store shares state with the writer")
	}

	// Mutating a read copy must not affect later reads.
	first.Status = models.RoomStatusEnded
	second, err := s.GetRoom(ctx, "ABCD1234")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if second.Status != models.RoomStatusActive {
		t.Error("store shares state between readers")
	}
}

func TestMemoryStoreCreateRejectsDuplicateCode(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateRoom(ctx, testRoom("ABCD1234", now)); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.CreateRoom(ctx, testRoom("ABCD1234", now)); err == nil {
		t.Error("duplicate create succeeded, want error")
	}
}

func TestMemoryStoreMissingRoom(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetRoom(ctx, "NOPE1234"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRoom = %v, want ErrNotFound", err)
	}
	if err := s.SaveRoom(ctx, testRoom("NOPE1234", time.Now())); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveRoom = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDeleteIdleBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	if err := s.CreateRoom(ctx, testRoom("STALE001", base.Add(-25*time.Hour))); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.CreateRoom(ctx, testRoom("FRESH001", base)); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	removed, err := s.DeleteIdleBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteIdleBefore: %v", err)
	}
	if len(removed) != 1 || removed[0] != "STALE001" {
		t.Errorf("removed = %v, want [STALE001]", removed)
	}
	if _, err := s.GetRoom(ctx, "STALE001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale room still present: %v", err)
	}
	if _, err := s.GetRoom(ctx, "FRESH001"); err != nil {
		t.Errorf("fresh room removed: %v", err)
	}
}
