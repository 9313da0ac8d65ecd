package notifier

import (
	"log/slog"

	"github.com/climate-tools/climate-scheduler/internal/coordinator"
	"github.com/slack-go/slack"
)

var _ Notifier = &SlackNotifier{}

// SlackNotifier sends a notification to a Slack channel.
type SlackNotifier struct {
	Sender  SlackSender
	Channel string
	Logger  *slog.Logger
}

type SlackSender interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

func (s *SlackNotifier) Notify(event coordinator.Event) {
	_, _, err := s.Sender.PostMessage(s.Channel, slack.MsgOptionAttachments(slack.Attachment{
		Color: "good",
		Title: event.GroupName,
		Text:  describe(event),
	}))
	if err != nil {
		s.Logger.Error("failed to send slack notification", "err", err)
	}
}
