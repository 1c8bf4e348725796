package collab

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the structured log instead of real
// delivery channels. It is the default Notifier for environments without a
// configured email/SMS/chat gateway.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

func (n *LogNotifier) SendEmail(ctx context.Context, to, subject, body string) error {
	n.logger().Info("notification", "channel", "email", "to", to, "subject", subject, "bytes", len(body))
	return nil
}

func (n *LogNotifier) SendSMS(ctx context.Context, to, message string) error {
	n.logger().Info("notification", "channel", "sms", "to", to, "message", message)
	return nil
}

func (n *LogNotifier) SendChat(ctx context.Context, message string) error {
	n.logger().Info("notification", "channel", "chat", "message", message)
	return nil
}
