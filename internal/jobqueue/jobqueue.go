/*
Package jobqueue provides a River-based job queue for processing finished
voice calls. Webhooks are acknowledged immediately; the durable job carries
the rest of the pipeline, so a crash between ack and ingest is retried
instead of lost.

For tuning parameters see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/standupbot/internal/pipeline"
)

// CallCompletedArgs are the arguments for one finished-call job.
type CallCompletedArgs struct {
	ConversationID string    `json:"conversation_id"`
	CallToken      string    `json:"call_token,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Kind returns the job kind for River.
func (CallCompletedArgs) Kind() string {
	return "standup_call_completed"
}

// CallCompletedWorker runs the post-call pipeline for one job.
type CallCompletedWorker struct {
	river.WorkerDefaults[CallCompletedArgs]
	processor *pipeline.Processor
	config    *QueueConfig
}

func (w *CallCompletedWorker) Timeout(*river.Job[CallCompletedArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work processes one finished call. A returned error schedules a River
// retry; after MaxRetries the job lands in the discarded set, which acts
// as the dead-letter record for operators.
func (w *CallCompletedWorker) Work(ctx context.Context, job *river.Job[CallCompletedArgs]) error {
	args := job.Args
	log.Info().
		Str("conversation_id", args.ConversationID).
		Int("attempt", job.Attempt).
		Msg("processing finished call")

	err := w.processor.Process(ctx, pipeline.CallEvent{
		ConversationID: args.ConversationID,
		CallToken:      args.CallToken,
		ReceivedAt:     args.ReceivedAt,
	})
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", args.ConversationID).
			Int("attempt", job.Attempt).
			Msg("finished-call processing failed")
		return fmt.Errorf("process conversation %s: %w", args.ConversationID, err)
	}
	return nil
}

// JobQueue manages the River client and its workers.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
}

// NewJobQueue creates a queue backed by the given pool. The pool is shared
// with the rest of the application; the queue does not own it.
func NewJobQueue(pool *pgxpool.Pool, processor *pipeline.Processor, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = GetQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &CallCompletedWorker{processor: processor, config: config})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, config: config}, nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers.
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueCallCompleted queues processing for a finished conversation. This
// is the only work the webhook handler does before acknowledging.
func (jq *JobQueue) EnqueueCallCompleted(ctx context.Context, conversationID, callToken string) error {
	args := CallCompletedArgs{
		ConversationID: conversationID,
		CallToken:      callToken,
		ReceivedAt:     time.Now().UTC(),
	}

	_, err := jq.client.Insert(ctx, args, &river.InsertOpts{
		MaxAttempts: jq.config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to queue call-completed job: %w", err)
	}
	return nil
}
