// Package api exposes the HTTP surface: ingestion, thread reads, the voice
// webhook, and the call page that starts a standup conversation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/standupbot/internal/pipeline"
	"github.com/standupbot/internal/status"
	"github.com/standupbot/pkg/models"
)

type ingester interface {
	Ingest(ctx context.Context, payload *models.IngestPayload) (*models.IngestResult, error)
}

type threadReader interface {
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)
}

type voiceGateway interface {
	SignedURL(ctx context.Context) (string, error)
	AgentID() string
}

type questionSource interface {
	QuestionsFor(ctx context.Context, userID string) ([]string, error)
}

// Enqueuer hands a finished call to the durable queue.
type Enqueuer interface {
	EnqueueCallCompleted(ctx context.Context, conversationID, callToken string) error
}

type callProcessor interface {
	Process(ctx context.Context, event pipeline.CallEvent) error
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Ingest    ingester
	Threads   threadReader
	Tracker   status.Tracker
	Voice     voiceGateway
	Questions questionSource

	// Queue carries finished calls. When nil, Fallback runs the pipeline
	// on a detached goroutine so the webhook is still acknowledged first.
	Queue    Enqueuer
	Fallback callProcessor
}

// Server represents the API server.
type Server struct {
	echo *echo.Echo
	port int
	deps Deps
}

// NewServer creates a new API server.
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		deps: deps,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.POST("/ingest", s.handleIngest)
	s.echo.GET("/thread/:id/messages", s.handleThreadMessages)
	s.echo.POST("/webhook", s.handleWebhook)
	s.echo.GET("/call", s.handleCallPage)
	s.echo.POST("/api/standup/start", s.handleStandupStart)
}

// Start begins the API server and blocks until an interrupt arrives.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
