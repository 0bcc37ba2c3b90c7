// Package status records which user has an outstanding voice call so the
// webhook processor can correlate a finished conversation back to them.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/standupbot/pkg/models"
)

// ErrNoMatch is returned when no status record satisfies a lookup.
var ErrNoMatch = errors.New("no matching status record")

// Tracker is the status table boundary. The pipeline depends on this
// interface so it can run against a fake in tests.
type Tracker interface {
	Upsert(ctx context.Context, userID, date string, status models.CallStatus, callToken string) error
	FindMostRecentCalled(ctx context.Context, date string) (*models.StatusRecord, error)
	FindByToken(ctx context.Context, token string) (*models.StatusRecord, error)
	MarkCompleted(ctx context.Context, userID, date string) error
}

// statusRankSQL maps a status column to its monotonic rank inside a query.
const statusRankSQL = `CASE %s WHEN 'pending' THEN 0 WHEN 'called' THEN 1 WHEN 'completed' THEN 2 ELSE -1 END`

// PGTracker stores status records in a Postgres table keyed on
// (call_date, slack_user_id).
type PGTracker struct {
	pool *pgxpool.Pool
}

// NewPGTracker creates a tracker on the given pool.
func NewPGTracker(pool *pgxpool.Pool) *PGTracker {
	return &PGTracker{pool: pool}
}

// Migrate creates the standup_calls table if it does not exist.
func (t *PGTracker) Migrate(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS standup_calls (
			id            BIGSERIAL PRIMARY KEY,
			slack_user_id TEXT NOT NULL,
			call_date     TEXT NOT NULL,
			status        TEXT NOT NULL,
			call_token    TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (call_date, slack_user_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create standup_calls table: %w", err)
	}
	return nil
}

// Upsert inserts or updates the record for (date, userID). Status moves only
// forward: the SQL rank comparison refuses to regress completed back to
// called or pending. A non-empty callToken replaces the stored one.
func (t *PGTracker) Upsert(ctx context.Context, userID, date string, status models.CallStatus, callToken string) error {
	if status.Rank() < 0 {
		return fmt.Errorf("unknown call status %q", status)
	}

	query := fmt.Sprintf(`
		INSERT INTO standup_calls (slack_user_id, call_date, status, call_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_date, slack_user_id) DO UPDATE SET
			status = CASE
				WHEN (%s) > (%s) THEN EXCLUDED.status
				ELSE standup_calls.status
			END,
			call_token = CASE
				WHEN EXCLUDED.call_token <> '' THEN EXCLUDED.call_token
				ELSE standup_calls.call_token
			END,
			created_at = NOW()
	`,
		fmt.Sprintf(statusRankSQL, "EXCLUDED.status"),
		fmt.Sprintf(statusRankSQL, "standup_calls.status"),
	)

	if _, err := t.pool.Exec(ctx, query, userID, date, string(status), callToken); err != nil {
		return fmt.Errorf("upsert status for %s on %s: %w", userID, date, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.StatusRecord, error) {
	var rec models.StatusRecord
	var status string
	if err := row.Scan(&rec.SlackUserID, &rec.Date, &status, &rec.CallToken, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoMatch
		}
		return nil, fmt.Errorf("scan status record: %w", err)
	}
	rec.Status = models.CallStatus(status)
	return &rec, nil
}

// FindMostRecentCalled returns the newest record with status "called" for a
// date. This is the heuristic correlation path: there is no stronger
// identity signal in the voice-call round trip unless the webhook echoes a
// call token.
func (t *PGTracker) FindMostRecentCalled(ctx context.Context, date string) (*models.StatusRecord, error) {
	row := t.pool.QueryRow(ctx, `
		SELECT slack_user_id, call_date, status, call_token, created_at
		FROM standup_calls
		WHERE call_date = $1 AND status = 'called'
		ORDER BY created_at DESC
		LIMIT 1
	`, date)
	return scanRecord(row)
}

// FindByToken resolves a record by the call token minted when the
// invitation was issued.
func (t *PGTracker) FindByToken(ctx context.Context, token string) (*models.StatusRecord, error) {
	if token == "" {
		return nil, ErrNoMatch
	}
	row := t.pool.QueryRow(ctx, `
		SELECT slack_user_id, call_date, status, call_token, created_at
		FROM standup_calls
		WHERE call_token = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, token)
	return scanRecord(row)
}

// MarkCompleted advances the record for (date, userID) to completed.
func (t *PGTracker) MarkCompleted(ctx context.Context, userID, date string) error {
	tag, err := t.pool.Exec(ctx, `
		UPDATE standup_calls
		SET status = 'completed'
		WHERE call_date = $1 AND slack_user_id = $2 AND status <> 'completed'
	`, date, userID)
	if err != nil {
		return fmt.Errorf("mark completed for %s on %s: %w", userID, date, err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Str("user_id", userID).Str("date", date).
			Msg("mark completed was a no-op, record already completed or never tracked")
	}
	return nil
}
