package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"
)

// SlackAPI is the subset of the Slack client used for alerts.
type SlackAPI interface {
	PostMessage(channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackAlerter posts alerts to an operations channel.
type SlackAlerter struct {
	api     SlackAPI
	channel string
}

func NewSlackAlerter(api SlackAPI, channel string) *SlackAlerter {
	return &SlackAlerter{api: api, channel: channel}
}

func (a *SlackAlerter) Alert(_ context.Context, subject, detail string) error {
	_, _, err := a.api.PostMessage(a.channel, slacklib.MsgOptionBlocks(BuildAlertBlocks(subject, detail)...))
	if err != nil {
		return fmt.Errorf("notify.SlackAlerter.Alert: %w", err)
	}
	return nil
}

// BuildAlertBlocks builds the Block Kit layout for one alert message.
func BuildAlertBlocks(subject, detail string) []slacklib.Block {
	header := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, ":rotating_light: *"+subject+"*", false, false),
		nil,
		nil,
	)

	if detail == "" {
		return []slacklib.Block{header}
	}

	body := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, detail, false, false),
		nil,
		nil,
	)

	return []slacklib.Block{header, body}
}
