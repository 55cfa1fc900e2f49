package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/sprintpoker/go/internal/models"
)

// PostgresStore persists each room aggregate as a single JSONB document keyed
// by room code. The updated_at column is maintained alongside the document so
// the retention sweep can run server-side.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the rooms table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			code       TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure rooms table: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room %s: %w", room.Code, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rooms (code, doc, updated_at) VALUES ($1, $2, $3)`,
		room.Code, doc, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert room %s: %w", room.Code, err)
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM rooms WHERE code = $1`, code).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", code, err)
	}

	var room models.Room
	if err := json.Unmarshal(doc, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room %s: %w", code, err)
	}
	return &room, nil
}

func (s *PostgresStore) SaveRoom(ctx context.Context, room *models.Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room %s: %w", room.Code, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET doc = $2, updated_at = $3 WHERE code = $1`,
		room.Code, doc, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteIdleBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM rooms WHERE updated_at < $1 RETURNING code`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete idle rooms: %w", err)
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan deleted room code: %w", err)
		}
		removed = append(removed, code)
	}
	return removed, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
