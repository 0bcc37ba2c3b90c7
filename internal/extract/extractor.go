// Package extract turns a raw standup transcript into structured facts and
// a natural-language summary. The prompt contract is deliberately opaque:
// callers see text in, structured data out.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/standupbot/pkg/models"
)

// Extraction is the structured result for one transcript.
type Extraction struct {
	Facts   models.ExtractedFacts
	Summary string
}

// Extractor is the black-box extraction boundary.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (*Extraction, error)
	GenerateQuestions(ctx context.Context, history string) ([]string, error)
}

const extractPrompt = `You are given the transcript of a spoken daily standup.
Return ONLY a JSON object with these keys:
  "yesterday" (string), "today" (string), "blockers" (string),
  "tasks" (array of short task strings), "confidence" (number 0 to 1),
  "summary" (2-3 sentence natural-language summary for the team channel).

Transcript:
%s`

const questionsPrompt = `You prepare a voice agent for a daily standup call.
Given the member's recent standup history, return ONLY a JSON array of
exactly 3 short personalized questions to ask them today.

History:
%s`

// LLMExtractor implements Extractor on a langchaingo model.
type LLMExtractor struct {
	llm         llms.Model
	model       string
	temperature float64
}

// NewLLMExtractor builds an extractor for the configured provider. Supported
// providers: openai, claude, ollama.
func NewLLMExtractor(ctx context.Context, provider, apiKey, model string, temperature float64) (*LLMExtractor, error) {
	var llm llms.Model
	var err error

	switch strings.ToLower(provider) {
	case "openai":
		llm, err = openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	case "claude", "anthropic":
		llm, err = anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(model))
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", provider, err)
	}

	return &LLMExtractor{llm: llm, model: model, temperature: temperature}, nil
}

// NewLLMExtractorWithModel wraps an existing model (used by tests).
func NewLLMExtractorWithModel(llm llms.Model) *LLMExtractor {
	return &LLMExtractor{llm: llm}
}

func (e *LLMExtractor) call(ctx context.Context, prompt string) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(e.temperature)}
	if e.model != "" {
		opts = append(opts, llms.WithModel(e.model))
	}
	return llms.GenerateFromSinglePrompt(ctx, e.llm, prompt, opts...)
}

// Extract derives structured facts and a summary from a transcript.
func (e *LLMExtractor) Extract(ctx context.Context, transcript string) (*Extraction, error) {
	response, err := e.call(ctx, fmt.Sprintf(extractPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}
	return ParseExtraction(response)
}

// ParseExtraction decodes a model response into an Extraction, running the
// repair ladder when the raw response is not valid JSON.
func ParseExtraction(response string) (*Extraction, error) {
	repaired, strategies, err := repairJSON(response)
	if err != nil {
		return nil, fmt.Errorf("extraction response is not usable JSON: %w", err)
	}
	if len(strategies) > 0 {
		log.Debug().Strs("strategies", strategies).Msg("repaired extraction JSON")
	}

	var raw struct {
		Yesterday  string   `json:"yesterday"`
		Today      string   `json:"today"`
		Blockers   string   `json:"blockers"`
		Tasks      []string `json:"tasks"`
		Confidence float64  `json:"confidence"`
		Summary    string   `json:"summary"`
	}
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return nil, fmt.Errorf("decode extraction JSON: %w", err)
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Extraction{
		Facts: models.ExtractedFacts{
			Yesterday:  raw.Yesterday,
			Today:      raw.Today,
			Blockers:   raw.Blockers,
			Tasks:      raw.Tasks,
			Confidence: confidence,
		},
		Summary: raw.Summary,
	}, nil
}

// GenerateQuestions asks for three personalized questions from the member's
// standup history. The result is always exactly three entries.
func (e *LLMExtractor) GenerateQuestions(ctx context.Context, history string) ([]string, error) {
	response, err := e.call(ctx, fmt.Sprintf(questionsPrompt, history))
	if err != nil {
		return nil, fmt.Errorf("question generation call failed: %w", err)
	}
	return ParseQuestions(response)
}

// ParseQuestions decodes a question-generation response, padding or
// truncating to exactly three questions.
func ParseQuestions(response string) ([]string, error) {
	repaired, _, err := repairJSON(response)
	if err != nil {
		return nil, fmt.Errorf("questions response is not usable JSON: %w", err)
	}

	var questions []string
	if err := json.Unmarshal([]byte(repaired), &questions); err != nil {
		return nil, fmt.Errorf("decode questions JSON: %w", err)
	}

	defaults := []string{
		"What did you work on yesterday?",
		"What are you planning to do today?",
		"Is anything blocking you?",
	}
	for len(questions) < 3 {
		questions = append(questions, defaults[len(questions)])
	}
	return questions[:3], nil
}
