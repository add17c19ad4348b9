package notification

import (
	"context"

	appnotification "github.com/Zhima-Mochi/minishop-fulfillment/internal/application/notification"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability/logctx"
)

// LogNotifier writes messages to the log instead of delivering them.
// It is the default when no SMTP relay is configured.
type LogNotifier struct {
	log observability.Logger
}

var _ appnotification.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log observability.Logger) *LogNotifier {
	if log == nil {
		log = observability.NopLogger()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, msg appnotification.Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	logctx.FromOr(ctx, n.log).Info("notification_logged",
		observability.F("to", msg.To),
		observability.F("subject", msg.Subject),
		observability.F("body", msg.Body),
	)
	return nil
}
