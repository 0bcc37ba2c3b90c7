package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used everywhere a standup date
// crosses a boundary: ingest payloads, status records, thread keys.
const DateLayout = "2006-01-02"

// CallStatus tracks the lifecycle of an outstanding voice call.
type CallStatus string

const (
	StatusPending   CallStatus = "pending"
	StatusCalled    CallStatus = "called"
	StatusCompleted CallStatus = "completed"
)

// Rank orders statuses so transitions can be kept monotonic:
// pending -> called -> completed, never backwards.
func (s CallStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusCalled:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// SentinelUser is used when a finished call cannot be correlated back to
// the user that started it. Ingestion still proceeds under this identity.
const SentinelUser = "unknown"

// ExtractedFacts is the structured output of the extraction service for
// one standup transcript.
type ExtractedFacts struct {
	Yesterday  string   `json:"yesterday"`
	Today      string   `json:"today"`
	Blockers   string   `json:"blockers"`
	Tasks      []string `json:"tasks"`
	Confidence float64  `json:"confidence"`
}

// IngestPayload is one standup submission: the raw transcript plus the
// facts derived from it. It is validated before any remote call is made.
type IngestPayload struct {
	TeamID     string         `json:"team_id"`
	UserID     string         `json:"user_id"`
	Date       string         `json:"date"`
	Transcript string         `json:"transcript"`
	Extracted  ExtractedFacts `json:"extracted"`
	Summary    string         `json:"summary,omitempty"`
}

// FieldError reports a validation failure for a single payload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates the field-level problems found in a payload.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid ingest payload: " + strings.Join(parts, "; ")
}

// Validate checks the payload before it is allowed near a remote service.
func (p *IngestPayload) Validate() error {
	var fields []FieldError

	if strings.TrimSpace(p.TeamID) == "" {
		fields = append(fields, FieldError{Field: "team_id", Message: "must not be empty"})
	}
	if strings.TrimSpace(p.UserID) == "" {
		fields = append(fields, FieldError{Field: "user_id", Message: "must not be empty"})
	}
	if strings.TrimSpace(p.Transcript) == "" {
		fields = append(fields, FieldError{Field: "transcript", Message: "must not be empty"})
	}
	if _, err := time.Parse(DateLayout, p.Date); err != nil {
		fields = append(fields, FieldError{Field: "date", Message: fmt.Sprintf("must be formatted %s", DateLayout)})
	}
	if p.Extracted.Confidence < 0 || p.Extracted.Confidence > 1 {
		fields = append(fields, FieldError{Field: "extracted.confidence", Message: "must be between 0 and 1"})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// StatusRecord correlates an outstanding or finished voice call to the
// user and day that triggered it.
type StatusRecord struct {
	SlackUserID string     `json:"slack_user_id" db:"slack_user_id"`
	Date        string     `json:"date" db:"date"`
	Status      CallStatus `json:"status" db:"status"`
	CallToken   string     `json:"call_token,omitempty" db:"call_token"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// ThreadMessage is one message inside a remote conversation thread.
type ThreadMessage struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Thread is a remote conversation container with its ordered messages.
type Thread struct {
	ID       string          `json:"id"`
	Messages []ThreadMessage `json:"messages"`
}

// IngestResult is what a successful ingest reports back to the caller.
type IngestResult struct {
	AssistantID string `json:"assistant_id"`
	ThreadID    string `json:"thread_id"`
	Stored      bool   `json:"stored"`
}

// ConversationTurn is one {role, message} entry from the voice-agent
// provider's conversation detail response.
type ConversationTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// JoinTranscript flattens conversation turns into the plain-text form the
// extraction service consumes.
func JoinTranscript(turns []ConversationTurn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role == "" {
			role = "unknown"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, t.Message))
	}
	return strings.Join(lines, "\n")
}
