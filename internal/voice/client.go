// Package voice talks to the voice-agent provider that conducts the actual
// standup conversation.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/standupbot/pkg/models"
)

// Client calls the voice-agent provider. Unlike the memory client there is
// no retry layer here: a failed conversation fetch terminates processing of
// that event rather than re-running the pipeline.
type Client struct {
	baseURL string
	apiKey  string
	agentID string
	httpc   *http.Client
}

// NewClient creates a voice provider client for the configured agent.
func NewClient(baseURL, apiKey, agentID string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		agentID: agentID,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient swaps the underlying HTTP client (used by tests).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpc = h
	return c
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build voice api request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("voice api GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("voice api read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("voice api GET %s: status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("voice api decode response: %w", err)
	}
	return nil
}

// SignedURL fetches a short-lived WebSocket URL for starting a conversation
// with the configured agent.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	var resp struct {
		SignedURL string `json:"signed_url"`
	}
	path := "/convai/conversation/get-signed-url?agent_id=" + url.QueryEscape(c.agentID)
	if err := c.get(ctx, path, &resp); err != nil {
		return "", err
	}
	if resp.SignedURL == "" {
		return "", fmt.Errorf("voice api response missing signed_url")
	}
	return resp.SignedURL, nil
}

// AgentID returns the configured agent identifier.
func (c *Client) AgentID() string {
	return c.agentID
}

// Conversation fetches the finished conversation and joins its turns into
// one transcript, one "role: message" line per turn.
func (c *Client) Conversation(ctx context.Context, conversationID string) (string, error) {
	var resp struct {
		Transcript []models.ConversationTurn `json:"transcript"`
	}
	path := "/convai/conversations/" + url.PathEscape(conversationID)
	if err := c.get(ctx, path, &resp); err != nil {
		return "", err
	}
	return models.JoinTranscript(resp.Transcript), nil
}
