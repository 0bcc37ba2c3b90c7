// Package notify delivers standup results back to the team.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/standupbot/pkg/models"
)

// Notifier posts a completed standup summary somewhere a human will see it.
type Notifier interface {
	NotifyCompleted(ctx context.Context, slackUserID, summary string, facts models.ExtractedFacts) error
}

type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// SlackNotifier sends to a configured channel, or falls back to a DM with
// the member when no channel is set.
type SlackNotifier struct {
	api     slackAPI
	channel string
}

func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{api: slack.New(botToken), channel: channel}
}

func newSlackNotifierWithAPI(api slackAPI, channel string) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel}
}

// NotifyCompleted posts the standup summary. Delivery is best effort from
// the pipeline's point of view; failures are returned for logging only.
func (n *SlackNotifier) NotifyCompleted(ctx context.Context, slackUserID, summary string, facts models.ExtractedFacts) error {
	target := n.channel
	if target == "" {
		if slackUserID == "" || slackUserID == models.SentinelUser {
			log.Warn().Msg("no slack channel configured and no member to DM, skipping notification")
			return nil
		}
		channel, _, _, err := n.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users: []string{slackUserID},
		})
		if err != nil {
			return fmt.Errorf("open DM with %s: %w", slackUserID, err)
		}
		target = channel.ID
	}

	_, _, err := n.api.PostMessageContext(ctx, target, slack.MsgOptionText(formatSummary(slackUserID, summary, facts), false))
	if err != nil {
		return fmt.Errorf("post standup summary to %s: %w", target, err)
	}
	return nil
}

func formatSummary(slackUserID, summary string, facts models.ExtractedFacts) string {
	who := "A team member"
	if slackUserID != "" && slackUserID != models.SentinelUser {
		who = fmt.Sprintf("<@%s>", slackUserID)
	}

	text := fmt.Sprintf(":white_check_mark: %s completed their standup.\n\n*Summary:* %s", who, summary)
	if facts.Blockers != "" && facts.Blockers != "none" {
		text += fmt.Sprintf("\n:warning: *Blockers:* %s", facts.Blockers)
	}
	return text
}
