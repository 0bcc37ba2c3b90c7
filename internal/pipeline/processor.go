// Package pipeline runs the post-call workflow: correlate the finished
// conversation with a standup row, pull the transcript, extract facts,
// store them in memory, and tell the team.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/standupbot/internal/extract"
	"github.com/standupbot/internal/notify"
	"github.com/standupbot/internal/status"
	"github.com/standupbot/pkg/models"
)

type transcriptFetcher interface {
	Conversation(ctx context.Context, conversationID string) (string, error)
}

type ingester interface {
	Ingest(ctx context.Context, payload *models.IngestPayload) (*models.IngestResult, error)
}

// CallEvent identifies a finished conversation to process.
type CallEvent struct {
	ConversationID string
	CallToken      string
	ReceivedAt     time.Time
}

// Processor wires the per-call collaborators together.
type Processor struct {
	tracker   status.Tracker
	voice     transcriptFetcher
	extractor extract.Extractor
	ingest    ingester
	notifier  notify.Notifier
	teamID    string
	now       func() time.Time
}

func NewProcessor(tracker status.Tracker, voice transcriptFetcher, extractor extract.Extractor, ing ingester, notifier notify.Notifier, teamID string) *Processor {
	return &Processor{
		tracker:   tracker,
		voice:     voice,
		extractor: extractor,
		ingest:    ing,
		notifier:  notifier,
		teamID:    teamID,
		now:       time.Now,
	}
}

// Process handles one completed call end to end. A returned error means the
// event should be retried; everything past ingestion is best effort.
func (p *Processor) Process(ctx context.Context, event CallEvent) error {
	if event.ConversationID == "" {
		return errors.New("event has no conversation id")
	}

	record := p.correlate(ctx, event)
	logger := log.With().
		Str("conversation_id", event.ConversationID).
		Str("slack_user_id", record.SlackUserID).
		Str("date", record.Date).
		Logger()

	transcript, err := p.voice.Conversation(ctx, event.ConversationID)
	if err != nil {
		return fmt.Errorf("fetch conversation %s: %w", event.ConversationID, err)
	}
	if transcript == "" {
		logger.Warn().Msg("conversation has an empty transcript, nothing to ingest")
		return nil
	}

	extraction, err := p.extractor.Extract(ctx, transcript)
	if err != nil {
		return fmt.Errorf("extract facts from conversation %s: %w", event.ConversationID, err)
	}

	payload := &models.IngestPayload{
		TeamID:     p.teamID,
		UserID:     record.SlackUserID,
		Date:       record.Date,
		Transcript: transcript,
		Extracted:  extraction.Facts,
		Summary:    extraction.Summary,
	}
	result, err := p.ingest.Ingest(ctx, payload)
	if err != nil {
		return fmt.Errorf("ingest standup for %s: %w", record.SlackUserID, err)
	}
	logger.Info().
		Str("thread_id", result.ThreadID).
		Bool("stored", result.Stored).
		Msg("standup ingested")

	if record.SlackUserID != models.SentinelUser {
		if err := p.tracker.MarkCompleted(ctx, record.SlackUserID, record.Date); err != nil {
			logger.Error().Err(err).Msg("failed to mark standup completed")
		}
	}

	if err := p.notifier.NotifyCompleted(ctx, record.SlackUserID, extraction.Summary, extraction.Facts); err != nil {
		logger.Error().Err(err).Msg("failed to send standup notification")
	}

	return nil
}

// correlate resolves which member this conversation belongs to. The call
// token is authoritative when present; otherwise fall back to the most
// recent same-day row still in the called state. A sentinel record keeps
// the transcript ingestible even when no row matches.
func (p *Processor) correlate(ctx context.Context, event CallEvent) *models.StatusRecord {
	today := p.now().UTC().Format(models.DateLayout)

	if event.CallToken != "" {
		record, err := p.tracker.FindByToken(ctx, event.CallToken)
		if err == nil {
			return record
		}
		if !errors.Is(err, status.ErrNoMatch) {
			log.Error().Err(err).Str("call_token", event.CallToken).Msg("token lookup failed, falling back to heuristic")
		}
	}

	record, err := p.tracker.FindMostRecentCalled(ctx, today)
	if err == nil {
		return record
	}
	if !errors.Is(err, status.ErrNoMatch) {
		log.Error().Err(err).Msg("status lookup failed, attributing to sentinel user")
	}

	return &models.StatusRecord{SlackUserID: models.SentinelUser, Date: today}
}
