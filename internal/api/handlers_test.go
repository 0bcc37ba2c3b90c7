package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standupbot/internal/memory"
	"github.com/standupbot/internal/pipeline"
	"github.com/standupbot/pkg/models"
)

type fakeIngest struct {
	payloads []*models.IngestPayload
	err      error
}

func (f *fakeIngest) Ingest(ctx context.Context, payload *models.IngestPayload) (*models.IngestResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestResult{AssistantID: "asst_1", ThreadID: "th_1", Stored: true}, nil
}

type fakeThreads struct {
	thread *models.Thread
	err    error
}

func (f *fakeThreads) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.thread, nil
}

type fakeTracker struct {
	upserts []string
	err     error
}

func (f *fakeTracker) Upsert(ctx context.Context, userID, date string, s models.CallStatus, token string) error {
	f.upserts = append(f.upserts, userID+"/"+string(s))
	return f.err
}

func (f *fakeTracker) FindMostRecentCalled(ctx context.Context, date string) (*models.StatusRecord, error) {
	return nil, errors.New("not used")
}

func (f *fakeTracker) FindByToken(ctx context.Context, token string) (*models.StatusRecord, error) {
	return nil, errors.New("not used")
}

func (f *fakeTracker) MarkCompleted(ctx context.Context, userID, date string) error {
	return errors.New("not used")
}

type fakeVoice struct {
	signedURL string
	err       error
}

func (f *fakeVoice) SignedURL(ctx context.Context) (string, error) {
	return f.signedURL, f.err
}

func (f *fakeVoice) AgentID() string { return "agent_42" }

type fakeQueue struct {
	enqueued []string
	tokens   []string
	err      error
}

func (f *fakeQueue) EnqueueCallCompleted(ctx context.Context, conversationID, callToken string) error {
	f.enqueued = append(f.enqueued, conversationID)
	f.tokens = append(f.tokens, callToken)
	return f.err
}

type fakeQuestions struct {
	out []string
	err error
}

func (f *fakeQuestions) QuestionsFor(ctx context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeProcessor struct {
	mu      sync.Mutex
	events  []pipeline.CallEvent
	release chan struct{}
	done    chan struct{}
	err     error
}

func (f *fakeProcessor) Process(ctx context.Context, event pipeline.CallEvent) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	close(f.done)
	return f.err
}

func newTestServer(deps Deps) *Server {
	return NewServer(0, deps)
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHandleIngest_Success(t *testing.T) {
	ing := &fakeIngest{}
	s := newTestServer(Deps{Ingest: ing})

	rec := doRequest(s, http.MethodPost, "/ingest", `{
		"team_id": "eng", "user_id": "U1", "date": "2026-02-03",
		"transcript": "user: did stuff",
		"extracted": {"yesterday": "y", "today": "t", "blockers": "", "tasks": [], "confidence": 0.9}
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"thread_id":"th_1"`)
	require.Len(t, ing.payloads, 1)
}

func TestHandleIngest_ValidationFailure(t *testing.T) {
	s := newTestServer(Deps{Ingest: &fakeIngest{}})

	rec := doRequest(s, http.MethodPost, "/ingest", `{"team_id": "", "user_id": "U1", "date": "bad", "transcript": "x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "team_id")
	assert.Contains(t, rec.Body.String(), "date")
}

func TestHandleIngest_MemoryErrorSurfaced(t *testing.T) {
	ing := &fakeIngest{err: &memory.APIError{Method: "POST", Path: "/threads/x/messages", Status: 503, Body: "down"}}
	s := newTestServer(Deps{Ingest: ing})

	rec := doRequest(s, http.MethodPost, "/ingest", `{
		"team_id": "eng", "user_id": "U1", "date": "2026-02-03", "transcript": "t",
		"extracted": {"confidence": 0.5}
	}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "503")
}

func TestHandleThreadMessages(t *testing.T) {
	threads := &fakeThreads{thread: &models.Thread{
		ID: "th_9",
		Messages: []models.ThreadMessage{
			{Role: "user", Content: "TRANSCRIPT"},
			{Role: "assistant", Content: "EXTRACTED"},
		},
	}}
	s := newTestServer(Deps{Threads: threads})

	rec := doRequest(s, http.MethodGet, "/thread/th_9/messages", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"thread_id":"th_9"`)
	assert.Contains(t, rec.Body.String(), "EXTRACTED")
}

func TestHandleThreadMessages_NotFound(t *testing.T) {
	threads := &fakeThreads{err: &memory.APIError{Method: "GET", Path: "/threads/nope", Status: 404, Body: ""}}
	s := newTestServer(Deps{Threads: threads})

	rec := doRequest(s, http.MethodGet, "/thread/nope/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWebhook_EnvelopeUnwrapAndAck(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestServer(Deps{Queue: queue})

	rec := doRequest(s, http.MethodPost, "/webhook", `{
		"type": "post_call_transcription",
		"data": {
			"conversation_id": "conv-77",
			"conversation_initiation_client_data": {
				"dynamic_variables": {"call_token": "tok-9"}
			}
		}
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "conv-77")
	assert.Equal(t, []string{"conv-77"}, queue.enqueued)
	assert.Equal(t, []string{"tok-9"}, queue.tokens)
}

func TestHandleWebhook_FlatPayload(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestServer(Deps{Queue: queue})

	rec := doRequest(s, http.MethodPost, "/webhook", `{"conversation_id": "conv-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"conv-1"}, queue.enqueued)
}

func TestHandleWebhook_MissingConversationID(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestServer(Deps{Queue: queue})

	rec := doRequest(s, http.MethodPost, "/webhook", `{"type": "post_call_transcription", "data": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, queue.enqueued)
}

func TestHandleWebhook_FallbackAcksBeforeProcessing(t *testing.T) {
	proc := &fakeProcessor{
		release: make(chan struct{}),
		done:    make(chan struct{}),
		err:     errors.New("conversation fetch failed"),
	}
	s := newTestServer(Deps{Fallback: proc})

	rec := doRequest(s, http.MethodPost, "/webhook", `{"conversation_id": "conv-9", "call_token": "tok-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-proc.done:
		t.Fatal("processing finished before the ack was sent")
	default:
	}

	close(proc.release)
	select {
	case <-proc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("detached processing never ran")
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Len(t, proc.events, 1)
	assert.Equal(t, "conv-9", proc.events[0].ConversationID)
	assert.Equal(t, "tok-1", proc.events[0].CallToken)
}

func TestHandleWebhook_AcksWithoutProcessor(t *testing.T) {
	// No queue and no fallback still acknowledges: the provider must never
	// see an error for a well-formed notification.
	s := newTestServer(Deps{})

	rec := doRequest(s, http.MethodPost, "/webhook", `{"conversation_id": "conv-2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCallPage(t *testing.T) {
	tracker := &fakeTracker{}
	questions := &fakeQuestions{out: []string{"How did the migration go?", "What is next?", "Anything blocking?"}}
	s := newTestServer(Deps{Tracker: tracker, Voice: &fakeVoice{}, Questions: questions})

	rec := doRequest(s, http.MethodGet, "/call?user_id=U7&user_name=Sam", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_42")
	assert.Contains(t, rec.Body.String(), "call_token")
	assert.Contains(t, rec.Body.String(), "How did the migration go?")
	assert.Equal(t, []string{"U7/called"}, tracker.upserts)
}

func TestHandleCallPage_QuestionFailureSkipped(t *testing.T) {
	tracker := &fakeTracker{}
	s := newTestServer(Deps{Tracker: tracker, Voice: &fakeVoice{}, Questions: &fakeQuestions{err: errors.New("llm down")}})

	rec := doRequest(s, http.MethodGet, "/call?user_id=U7", "")
	assert.Equal(t, http.StatusOK, rec.Code, "the call must start even when question generation fails")
	assert.NotContains(t, rec.Body.String(), `"questions"`)
	assert.Equal(t, []string{"U7/called"}, tracker.upserts)
}

func TestHandleCallPage_MissingUser(t *testing.T) {
	tracker := &fakeTracker{}
	s := newTestServer(Deps{Tracker: tracker, Voice: &fakeVoice{}})

	rec := doRequest(s, http.MethodGet, "/call", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, tracker.upserts)
}

func TestHandleStandupStart(t *testing.T) {
	tracker := &fakeTracker{}
	questions := &fakeQuestions{out: []string{"q1", "q2", "q3"}}
	s := newTestServer(Deps{Tracker: tracker, Voice: &fakeVoice{signedURL: "wss://example/signed"}, Questions: questions})

	rec := doRequest(s, http.MethodPost, "/api/standup/start", `{"user_id": "U7"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wss://example/signed")
	assert.Contains(t, rec.Body.String(), `"questions":["q1","q2","q3"]`)
	assert.Equal(t, []string{"U7/called"}, tracker.upserts)
}

func TestHandleStandupStart_VoiceUnavailable(t *testing.T) {
	s := newTestServer(Deps{Tracker: &fakeTracker{}, Voice: &fakeVoice{err: errors.New("503")}})

	rec := doRequest(s, http.MethodPost, "/api/standup/start", `{"user_id": "U7"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(Deps{})
	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
