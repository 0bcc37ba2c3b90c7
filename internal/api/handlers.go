package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/standupbot/internal/memory"
	"github.com/standupbot/internal/pipeline"
	"github.com/standupbot/pkg/models"
)

// handleIngest accepts one standup submission and writes it to memory.
func (s *Server) handleIngest(c echo.Context) error {
	var payload models.IngestPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	result, err := s.deps.Ingest.Ingest(c.Request().Context(), &payload)
	if err != nil {
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
		}
		var apiErr *memory.APIError
		if errors.As(err, &apiErr) {
			return c.JSON(http.StatusBadGateway, map[string]interface{}{
				"error":  "memory service error",
				"status": apiErr.Status,
				"detail": apiErr.Error(),
			})
		}
		log.Error().Err(err).Msg("ingest failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "ingest failed",
		})
	}

	return c.JSON(http.StatusOK, result)
}

// handleThreadMessages returns the ordered messages of one thread.
func (s *Server) handleThreadMessages(c echo.Context) error {
	thread, err := s.deps.Threads.GetThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		var apiErr *memory.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "thread not found",
			})
		}
		log.Error().Err(err).Str("thread_id", c.Param("id")).Msg("thread fetch failed")
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "memory service error",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"thread_id": thread.ID,
		"messages":  thread.Messages,
	})
}

// webhookEnvelope is the finished-call notification. The provider wraps the
// interesting fields in a data envelope; older payloads are flat.
type webhookEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	callFields
}

type callFields struct {
	ConversationID string `json:"conversation_id"`
	CallToken      string `json:"call_token"`

	ConversationInitiationClientData struct {
		DynamicVariables struct {
			CallToken string `json:"call_token"`
		} `json:"dynamic_variables"`
	} `json:"conversation_initiation_client_data"`
}

func (f *callFields) token() string {
	if f.CallToken != "" {
		return f.CallToken
	}
	return f.ConversationInitiationClientData.DynamicVariables.CallToken
}

// handleWebhook acknowledges the provider immediately and defers all work
// to the queue. Nothing slow happens before the 200.
func (s *Server) handleWebhook(c echo.Context) error {
	var envelope webhookEnvelope
	if err := c.Bind(&envelope); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid webhook payload",
		})
	}

	fields := envelope.callFields
	if len(envelope.Data) > 0 {
		var inner callFields
		if err := json.Unmarshal(envelope.Data, &inner); err == nil && inner.ConversationID != "" {
			fields = inner
		}
	}

	if fields.ConversationID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing conversation_id in webhook payload",
		})
	}

	if s.deps.Queue != nil {
		if err := s.deps.Queue.EnqueueCallCompleted(c.Request().Context(), fields.ConversationID, fields.token()); err != nil {
			log.Error().Err(err).Str("conversation_id", fields.ConversationID).Msg("failed to enqueue finished call")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to queue webhook",
			})
		}
	} else if s.deps.Fallback != nil {
		event := pipeline.CallEvent{
			ConversationID: fields.ConversationID,
			CallToken:      fields.token(),
			ReceivedAt:     time.Now().UTC(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := s.deps.Fallback.Process(ctx, event); err != nil {
				log.Error().Err(err).Str("conversation_id", event.ConversationID).Msg("detached webhook processing failed")
			}
		}()
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":          "ok",
		"conversation_id": fields.ConversationID,
	})
}

var callPageTemplate = template.Must(template.New("call").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>StandupBot — Voice Standup</title>
  <style>
    * { box-sizing: border-box; margin: 0; padding: 0; }
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
      background: #1a1d21; color: #d1d2d3;
      display: flex; flex-direction: column; align-items: center;
      justify-content: center; min-height: 100vh; gap: 24px;
      padding: 24px; text-align: center;
    }
    h1 { font-size: 1.4rem; color: #fff; }
    #status { font-size: 0.95rem; color: #a0a0a0; }
    #done-msg {
      display: none; background: #1d2d1d; border: 1px solid #2e6b2e;
      color: #6fcf6f; padding: 16px 24px; border-radius: 8px; font-size: 0.95rem;
    }
  </style>
</head>
<body>
  <h1>Daily Standup</h1>
  <p id="status">Starting your standup call...</p>
  <elevenlabs-convai id="widget" agent-id="{{.AgentID}}"></elevenlabs-convai>
  <script src="https://elevenlabs.io/convai-widget/index.js" async type="text/javascript"></script>
  <div id="done-msg">Standup complete! Check Slack for your confirmation.</div>
  <script>
    const dynamicVars = {{.DynamicVars}};
    const widget = document.getElementById('widget');
    const status = document.getElementById('status');
    const doneMsg = document.getElementById('done-msg');

    function initWidget() {
      if (customElements.get('elevenlabs-convai')) {
        widget.setAttribute('dynamic-variables', JSON.stringify(dynamicVars));
      } else {
        setTimeout(initWidget, 200);
      }
    }
    initWidget();

    widget.addEventListener('elevenlabs-convai:connect', () => {
      status.textContent = 'Connected — go ahead and speak!';
    });
    widget.addEventListener('elevenlabs-convai:disconnect', () => {
      status.style.display = 'none';
      doneMsg.style.display = 'block';
    });
  </script>
</body>
</html>
`))

// handleCallPage records that a member is starting a call and serves the
// voice-widget page. The minted call token travels with the conversation so
// the webhook can correlate the result deterministically.
func (s *Server) handleCallPage(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.HTML(http.StatusBadRequest, "<h2>Missing user_id</h2>")
	}
	userName := c.QueryParam("user_name")
	if userName == "" {
		userName = userID
	}

	token := uuid.NewString()
	today := time.Now().UTC().Format(models.DateLayout)
	if err := s.deps.Tracker.Upsert(c.Request().Context(), userID, today, models.StatusCalled, token); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to record call start")
		return c.HTML(http.StatusInternalServerError, "<h2>Could not start your standup, try again shortly</h2>")
	}

	dynamicVars := map[string]string{
		"user_name":  userName,
		"user_id":    userID,
		"call_token": token,
	}
	if questions := s.questionsFor(c.Request().Context(), userID); len(questions) > 0 {
		dynamicVars["questions"] = strings.Join(questions, "\n")
	}

	data := struct {
		AgentID     string
		DynamicVars map[string]string
	}{
		AgentID:     s.deps.Voice.AgentID(),
		DynamicVars: dynamicVars,
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return callPageTemplate.Execute(c.Response(), data)
}

// handleStandupStart returns a signed WebSocket URL for clients that drive
// the conversation themselves instead of using the widget page.
func (s *Server) handleStandupStart(c echo.Context) error {
	var body struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
	}
	if err := c.Bind(&body); err != nil || body.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "user_id is required",
		})
	}

	token := uuid.NewString()
	today := time.Now().UTC().Format(models.DateLayout)
	if err := s.deps.Tracker.Upsert(c.Request().Context(), body.UserID, today, models.StatusCalled, token); err != nil {
		log.Error().Err(err).Str("user_id", body.UserID).Msg("failed to record call start")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "could not start standup",
		})
	}

	signedURL, err := s.deps.Voice.SignedURL(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get signed conversation URL")
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "voice provider unavailable",
		})
	}

	// The client injects these as dynamic variables at the WebSocket
	// handshake, alongside the call token.
	questions := s.questionsFor(c.Request().Context(), body.UserID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"signed_url": signedURL,
		"agent_id":   s.deps.Voice.AgentID(),
		"call_token": token,
		"questions":  questions,
	})
}

// questionsFor fetches personalized opening questions for a member. The
// call page works without them, so failures are logged and skipped.
func (s *Server) questionsFor(ctx context.Context, userID string) []string {
	if s.deps.Questions == nil {
		return nil
	}
	questions, err := s.deps.Questions.QuestionsFor(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("question generation failed, starting call without personalized questions")
		return nil
	}
	return questions
}
