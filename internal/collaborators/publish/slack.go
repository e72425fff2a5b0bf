// Package publish provides collaborators.Publisher implementations that
// deliver the rendered digest artifact to a sink: Slack, and a GitHub
// content repository.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

// SlackPublisher posts the rendered digest to a single Slack channel as a
// Block Kit message.
type SlackPublisher struct {
	client    *slack.Client
	channelID string
}

// NewSlackPublisher creates a SlackPublisher that posts to channelID using
// a bot token.
func NewSlackPublisher(botToken, channelID string) *SlackPublisher {
	return &SlackPublisher{
		client:    slack.New(botToken),
		channelID: channelID,
	}
}

var _ collaborators.Publisher = (*SlackPublisher)(nil)

// Name identifies this publisher in logs and status output.
func (p *SlackPublisher) Name() string {
	return "slack"
}

// Publish posts the artifact to the configured channel. Calls are
// idempotent in effect (re-posting the same digest just re-announces it;
// the Aggregating phase only calls Publish once per publisher per
// successful run), but Slack itself has no dedup, so repeated calls on
// retry produce repeated messages. That is acceptable: retries only
// happen when a previous attempt failed.
func (p *SlackPublisher) Publish(ctx context.Context, digestDate time.Time, artifact []byte) error {
	blocks := buildDigestBlocks(digestDate, artifact)
	fallback := fmt.Sprintf("Daily digest for %s", digestDate.Format("2006-01-02"))

	_, _, err := p.client.PostMessageContext(ctx, p.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallback, false),
	)
	if err != nil {
		return fmt.Errorf("publish: slack: %w", err)
	}

	log.Info().
		Str("publisher", p.Name()).
		Str("digest_date", digestDate.Format("2006-01-02")).
		Msg("digest posted to slack")
	return nil
}

// buildDigestBlocks renders a short Block Kit summary announcing the
// digest: a header with the digest date and a code-block preview of the
// artifact, cut to its first 300 bytes and marked with "…" when longer.
func buildDigestBlocks(digestDate time.Time, artifact []byte) []slack.Block {
	header := slack.NewSectionBlock(
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Daily Digest — %s*", digestDate.Format("2006-01-02")), false, false),
		nil,
		nil,
	)

	preview := artifact
	const maxPreview = 300
	truncated := false
	if len(preview) > maxPreview {
		preview = preview[:maxPreview]
		truncated = true
	}
	previewText := string(preview)
	if truncated {
		previewText += "…"
	}

	body := slack.NewSectionBlock(
		slack.NewTextBlockObject("mrkdwn", "```\n"+previewText+"\n```", false, false),
		nil,
		nil,
	)

	return []slack.Block{header, body}
}
