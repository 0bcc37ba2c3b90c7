package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps the resource cache in a Postgres table so the
// insert-if-absent decision is made by the database, not by whichever
// process happened to write last.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed store on the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the cache table if it does not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS memory_resources (
			resource_key TEXT PRIMARY KEY,
			resource_id  TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create memory_resources table: %w", err)
	}
	return nil
}

// Get returns the id stored under key, or "" when absent.
func (s *PGStore) Get(ctx context.Context, key string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT resource_id FROM memory_resources WHERE resource_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query memory resource %q: %w", key, err)
	}
	return id, nil
}

// PutIfAbsent inserts id under key unless a row already exists, then reads
// back the winning id. ON CONFLICT DO NOTHING makes the insert a no-op for
// the loser of a race.
func (s *PGStore) PutIfAbsent(ctx context.Context, key, id string) (string, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_resources (resource_key, resource_id)
		VALUES ($1, $2)
		ON CONFLICT (resource_key) DO NOTHING
	`, key, id)
	if err != nil {
		return "", fmt.Errorf("insert memory resource %q: %w", key, err)
	}

	winner, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if winner == "" {
		return "", fmt.Errorf("memory resource %q missing after insert", key)
	}
	return winner, nil
}
