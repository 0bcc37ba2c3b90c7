// Package memory talks to the conversational-memory provider: one assistant
// per deployment, one thread per team/user bucket, messages appended in order.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/standupbot/internal/retry"
	"github.com/standupbot/pkg/models"
)

// APIError is a non-2xx response from the memory provider. 429 and 5xx are
// retryable; every other 4xx is terminal.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("memory api %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// transportError wraps connection/DNS/timeout failures, which are always
// worth retrying.
type transportError struct{ err error }

func (e *transportError) Error() string   { return fmt.Sprintf("memory api transport failure: %v", e.err) }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Retryable() bool { return true }

// Client is the retrying HTTP client for the memory provider. Every outbound
// call goes through request, which enforces the retry budget and backoff.
type Client struct {
	baseURL  string
	apiKey   string
	httpc    *http.Client
	retryCfg retry.Config
	limiter  *rate.Limiter
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithRateLimit throttles outbound calls to perSecond requests per second.
// Zero or negative disables throttling.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient creates a memory provider client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request performs one logical API call with up to three attempts. The body
// is JSON unless contentType says otherwise; out, when non-nil, receives the
// decoded response body.
func (c *Client) request(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	logger := log.With().Str("method", method).Str("path", path).Logger()

	result := retry.Do(ctx, c.retryCfg, logger, func(attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &transportError{err: err}
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			logger.Warn().Int("attempt", attempt).Err(err).Msg("memory api transport failure")
			return &transportError{err: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			logger.Warn().Int("attempt", attempt).Err(err).Msg("memory api read failure")
			return &transportError{err: err}
		}

		logger.Debug().Int("attempt", attempt).Int("status", resp.StatusCode).Msg("memory api attempt")

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode memory api response for %s %s: %w", method, path, err)
			}
		}
		return nil
	})

	if result.Success {
		return nil
	}
	if result.Attempts >= c.retryCfg.MaxAttempts && retry.IsRetryable(result.LastError) {
		return fmt.Errorf("memory api %s %s failed after %d attempts: %w", method, path, result.Attempts, result.LastError)
	}
	return result.LastError
}

// CreateAssistant creates the deployment-wide memory owner and returns its id.
func (c *Client) CreateAssistant(ctx context.Context, name, systemPrompt string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"name":          name,
		"system_prompt": systemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("encode assistant payload: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.request(ctx, http.MethodPost, "/assistants", "application/json", payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("memory api returned an assistant without an id")
	}
	return resp.ID, nil
}

// CreateThread creates a conversation container under the assistant.
func (c *Client) CreateThread(ctx context.Context, assistantID string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/assistants/%s/threads", url.PathEscape(assistantID))
	if err := c.request(ctx, http.MethodPost, path, "application/json", []byte("{}"), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("memory api returned a thread without an id")
	}
	return resp.ID, nil
}

// AddMessage appends a message to a thread. The provider takes this one call
// form-encoded rather than as JSON.
func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) (models.ThreadMessage, error) {
	form := url.Values{}
	form.Set("role", role)
	form.Set("content", content)

	var msg models.ThreadMessage
	path := fmt.Sprintf("/threads/%s/messages", url.PathEscape(threadID))
	err := c.request(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", []byte(form.Encode()), &msg)
	if err != nil {
		return models.ThreadMessage{}, err
	}
	return msg, nil
}

// GetThread fetches a thread with its ordered messages.
func (c *Client) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	var thread models.Thread
	path := fmt.Sprintf("/threads/%s", url.PathEscape(threadID))
	if err := c.request(ctx, http.MethodGet, path, "", nil, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}
