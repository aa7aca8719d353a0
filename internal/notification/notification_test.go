package notification

import (
    "bytes"
    "context"
    "log/slog"
    "strings"
    "testing"
)

func TestLoggerNotifierWritesMessage(t *testing.T) {
    var buf bytes.Buffer
    n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

    err := n.Send(context.Background(), Message{Kind: KindCycleCompleted, Destination: "group-1", Body: "paid 100 USD"})
    if err != nil {
        t.Fatalf("send: %v", err)
    }
    out := buf.String()
    if !strings.Contains(out, `"kind":"cycle_completed"`) || !strings.Contains(out, `"destination":"group-1"`) {
        t.Fatalf("unexpected log line: %s", out)
    }
}

func TestNilLoggerNotifier(t *testing.T) {
    var n *LoggerNotifier
    if err := n.Send(context.Background(), Message{}); err != nil {
        t.Fatalf("nil notifier should be a no-op, got %v", err)
    }
}
