package notification

import (
    "context"
    "log/slog"
)

const (
    // KindAuthorizationActivated is sent once the initial payment of a recurring authorization succeeds.
    KindAuthorizationActivated = "authorization_activated"
    // KindCycleCompleted is sent after a recurring payment cycle.
    KindCycleCompleted = "cycle_completed"
    // KindCycleFailed is sent when a cycle could not move money.
    KindCycleFailed = "cycle_failed"
)

// Message describes a notification payload.
type Message struct {
    Kind        string
    Destination string
    Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
    Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger until a delivery channel exists.
type LoggerNotifier struct {
    logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
    return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
    if n == nil || n.logger == nil {
        return nil
    }
    n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
    return nil
}
