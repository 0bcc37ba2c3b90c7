package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/standupbot/pkg/models"
)

// historyMessageLimit bounds how much thread history feeds question
// generation. Older standups add prompt cost without adding signal.
const historyMessageLimit = 20

type threadReader interface {
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)
}

type questionGenerator interface {
	GenerateQuestions(ctx context.Context, history string) ([]string, error)
}

// QuestionPlanner prepares the personalized questions a voice agent asks at
// the start of a call, from the member's standup history in memory.
type QuestionPlanner struct {
	cache       resolver
	reader      threadReader
	generator   questionGenerator
	granularity Granularity
	teamID      string
	now         func() time.Time
}

func NewQuestionPlanner(cache resolver, reader threadReader, generator questionGenerator, granularity Granularity, teamID string) *QuestionPlanner {
	if granularity != GranularityUserDay {
		granularity = GranularityUser
	}
	return &QuestionPlanner{
		cache:       cache,
		reader:      reader,
		generator:   generator,
		granularity: granularity,
		teamID:      teamID,
		now:         time.Now,
	}
}

// QuestionsFor resolves the member's thread, reads their recent standups,
// and generates today's questions from them.
func (p *QuestionPlanner) QuestionsFor(ctx context.Context, userID string) ([]string, error) {
	assistantID, err := p.cache.GetOrCreateAssistant(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve assistant: %w", err)
	}

	date := p.now().UTC().Format(models.DateLayout)
	key := ThreadKey(p.granularity, p.teamID, userID, date)
	threadID, err := p.cache.GetOrCreateThread(ctx, assistantID, key)
	if err != nil {
		return nil, fmt.Errorf("resolve thread %q: %w", key, err)
	}

	thread, err := p.reader.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("read thread %q: %w", key, err)
	}

	return p.generator.GenerateQuestions(ctx, historyText(thread.Messages))
}

// historyText flattens the most recent thread messages into the prompt
// text the generator consumes.
func historyText(messages []models.ThreadMessage) string {
	if len(messages) > historyMessageLimit {
		messages = messages[len(messages)-historyMessageLimit:]
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		lines = append(lines, m.Content)
	}
	if len(lines) == 0 {
		return "(no previous standups on record)"
	}
	return strings.Join(lines, "\n\n")
}
