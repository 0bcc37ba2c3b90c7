// Package ingest writes one standup submission into the remote memory
// hierarchy: transcript, extracted facts, then summary, in that order.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/standupbot/pkg/models"
)

// Granularity controls how thread keys bucket conversations.
type Granularity string

const (
	// GranularityUser keeps one thread per team member forever.
	GranularityUser Granularity = "user"
	// GranularityUserDay opens a fresh thread per team member per day.
	GranularityUserDay Granularity = "user_day"
)

// ThreadKey derives the deterministic conversation bucket for a submission.
// It is a pure function: same inputs, same key.
func ThreadKey(g Granularity, teamID, userID, date string) string {
	if g == GranularityUserDay {
		return fmt.Sprintf("%s:%s:%s", teamID, userID, date)
	}
	return fmt.Sprintf("%s:%s", teamID, userID)
}

// resolver resolves cached remote resource identifiers.
type resolver interface {
	GetOrCreateAssistant(ctx context.Context) (string, error)
	GetOrCreateThread(ctx context.Context, assistantID, key string) (string, error)
}

// appender appends a message to a remote thread.
type appender interface {
	AddMessage(ctx context.Context, threadID, role, content string) (models.ThreadMessage, error)
}

// Service is the ingestion orchestrator.
type Service struct {
	cache       resolver
	client      appender
	granularity Granularity
}

// NewService creates an ingestion service. granularity decides whether a
// user's standups share one thread forever or get one per day.
func NewService(cache resolver, client appender, granularity Granularity) *Service {
	if granularity != GranularityUserDay {
		granularity = GranularityUser
	}
	return &Service{cache: cache, client: client, granularity: granularity}
}

// header makes team/user/date recoverable from message content alone; the
// remote store has no native metadata fields.
func header(p *models.IngestPayload) string {
	return fmt.Sprintf("[standup team=%s user=%s date=%s]", p.TeamID, p.UserID, p.Date)
}

// Ingest validates the payload, resolves the assistant and thread, and
// appends transcript, extracted facts, and optional summary as ordered
// messages. Re-ingesting the same payload appends duplicates: this is
// deliberate at-least-once behavior, so callers must not retry blindly.
func (s *Service) Ingest(ctx context.Context, payload *models.IngestPayload) (*models.IngestResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	assistantID, err := s.cache.GetOrCreateAssistant(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve assistant: %w", err)
	}

	key := ThreadKey(s.granularity, payload.TeamID, payload.UserID, payload.Date)
	threadID, err := s.cache.GetOrCreateThread(ctx, assistantID, key)
	if err != nil {
		return nil, fmt.Errorf("resolve thread %q: %w", key, err)
	}

	h := header(payload)

	if _, err := s.client.AddMessage(ctx, threadID, "user", h+"\nTRANSCRIPT:\n"+payload.Transcript); err != nil {
		return nil, fmt.Errorf("append transcript: %w", err)
	}

	facts, err := json.Marshal(payload.Extracted)
	if err != nil {
		return nil, fmt.Errorf("encode extracted facts: %w", err)
	}
	if _, err := s.client.AddMessage(ctx, threadID, "assistant", h+"\nEXTRACTED:\n"+string(facts)); err != nil {
		return nil, fmt.Errorf("append extracted facts: %w", err)
	}

	if payload.Summary != "" {
		if _, err := s.client.AddMessage(ctx, threadID, "assistant", h+"\nSUMMARY:\n"+payload.Summary); err != nil {
			return nil, fmt.Errorf("append summary: %w", err)
		}
	}

	log.Info().Str("team", payload.TeamID).Str("user", payload.UserID).
		Str("date", payload.Date).Str("thread", threadID).Msg("standup ingested")

	return &models.IngestResult{
		AssistantID: assistantID,
		ThreadID:    threadID,
		Stored:      true,
	}, nil
}
