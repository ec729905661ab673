package hydration

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
)

// AlertNotifier delivers critical/high-severity hydration alerts out
// of band. Low/medium severity alerts are persisted but not pushed.
type AlertNotifier interface {
	Notify(ctx context.Context, alert models.HydrationAlert) error
}

// NoopNotifier is the default when no webhook is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, models.HydrationAlert) error { return nil }

// SlackNotifier posts critical/high severity alerts to a configured
// channel via a bot token.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	log     *zap.Logger
}

func NewSlackNotifier(botToken, channel string, log *zap.Logger) *SlackNotifier {
	return &SlackNotifier{client: slack.New(botToken), channel: channel, log: log}
}

func (n *SlackNotifier) Notify(ctx context.Context, alert models.HydrationAlert) error {
	if alert.Severity != models.SeverityCritical && alert.Severity != models.SeverityHigh {
		return nil
	}
	text := fmt.Sprintf("[%s/%s] workspace=%s: %s", alert.Severity, alert.Category, alert.WorkspaceID, alert.Message)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.log.Warn("failed to post hydration alert to slack", zap.Error(err))
		return err
	}
	return nil
}
