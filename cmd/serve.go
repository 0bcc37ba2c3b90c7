package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/standupbot/internal/api"
	"github.com/standupbot/internal/config"
	"github.com/standupbot/internal/database"
	"github.com/standupbot/internal/extract"
	"github.com/standupbot/internal/ingest"
	"github.com/standupbot/internal/jobqueue"
	"github.com/standupbot/internal/logging"
	"github.com/standupbot/internal/memory"
	"github.com/standupbot/internal/notify"
	"github.com/standupbot/internal/pipeline"
	"github.com/standupbot/internal/status"
	"github.com/standupbot/internal/voice"
)

// ServeCommand returns the CLI command for starting the API server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the StandupBot API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	ctx := context.Background()

	pool, err := database.NewPool(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	memOpts := []memory.ClientOption{}
	if cfg.Memory.RatePerSecond > 0 {
		memOpts = append(memOpts, memory.WithRateLimit(cfg.Memory.RatePerSecond))
	}
	memClient := memory.NewClient(cfg.Memory.BaseURL, cfg.Memory.APIKey, memOpts...)

	var store memory.Store
	switch cfg.Memory.CacheBackend {
	case "file":
		store = memory.NewFileStore(cfg.Memory.CacheFile)
	default:
		pgStore := memory.NewPGStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate memory resource table: %w", err)
		}
		store = pgStore
	}
	cache := memory.NewCache(store, memClient, cfg.Memory.AssistantName, cfg.Memory.SystemPrompt)

	ingestService := ingest.NewService(cache, memClient, ingest.Granularity(cfg.Memory.ThreadGranularity))

	tracker := status.NewPGTracker(pool)
	if err := tracker.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate standup call table: %w", err)
	}

	voiceClient := voice.NewClient(cfg.Voice.BaseURL, cfg.Voice.APIKey, cfg.Voice.AgentID)

	extractor, err := extract.NewLLMExtractor(ctx, cfg.Extraction.Provider, cfg.Extraction.APIKey, cfg.Extraction.Model, cfg.Extraction.Temperature)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	notifier := notify.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel)

	processor := pipeline.NewProcessor(tracker, voiceClient, extractor, ingestService, notifier, cfg.Memory.TeamID)

	planner := ingest.NewQuestionPlanner(cache, memClient, extractor, ingest.Granularity(cfg.Memory.ThreadGranularity), cfg.Memory.TeamID)

	queue, err := jobqueue.NewJobQueue(pool, processor, jobqueue.GetQueueConfig())
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		if err := queue.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("job queue shutdown failed")
		}
	}()

	server := api.NewServer(port, api.Deps{
		Ingest:    ingestService,
		Threads:   memClient,
		Tracker:   tracker,
		Voice:     voiceClient,
		Questions: planner,
		Queue:     queue,
		Fallback:  processor,
	})

	log.Info().Int("port", port).Msg("starting StandupBot API server")
	return server.Start()
}
