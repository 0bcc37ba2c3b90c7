package memory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standupbot/internal/retry"
)

func fastRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetryConfig()))
	return client, srv
}

func TestCreateAssistant(t *testing.T) {
	var gotAuth, gotContentType string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/assistants", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"id": "asst_123"}`))
	}))

	id, err := client.CreateAssistant(context.Background(), "Standup Memory", "remember standups")
	require.NoError(t, err)
	assert.Equal(t, "asst_123", id)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
}

func TestAddMessage_FormEncoded(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/th_1/messages", r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user", r.PostFormValue("role"))
		assert.Equal(t, "hello world", r.PostFormValue("content"))
		w.Write([]byte(`{"id": "msg_1", "role": "user", "content": "hello world"}`))
	}))

	msg, err := client.AddMessage(context.Background(), "th_1", "user", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, "user", msg.Role)
}

func TestGetThread(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/th_9", r.URL.Path)
		w.Write([]byte(`{"id": "th_9", "messages": [
			{"id": "m1", "role": "user", "content": "first"},
			{"id": "m2", "role": "assistant", "content": "second"}
		]}`))
	}))

	thread, err := client.GetThread(context.Background(), "th_9")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "first", thread.Messages[0].Content)
	assert.Equal(t, "second", thread.Messages[1].Content)
}

func TestRequest_RetriesServerErrorsToCeiling(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))

	_, err := client.CreateThread(context.Background(), "asst_1")
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts), "503 should be retried to the attempt ceiling")
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "503")
}

func TestRequest_RetriesRateLimit(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id": "th_1"}`))
	}))

	id, err := client.CreateThread(context.Background(), "asst_1")
	require.NoError(t, err)
	assert.Equal(t, "th_1", id)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestRequest_ClientErrorFailsImmediately(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "no such assistant", http.StatusNotFound)
	}))

	_, err := client.CreateThread(context.Background(), "missing")
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts), "404 must not be retried")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "POST", apiErr.Method)
	assert.Contains(t, apiErr.Body, "no such assistant")
}

func TestRequest_TransportFailureIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from now on

	client := NewClient(srv.URL, "key", WithRetryConfig(fastRetryConfig()))
	_, err := client.CreateThread(context.Background(), "asst_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}
