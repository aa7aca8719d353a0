package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedKeys are attribute keys whose values are bearer credentials.
var redactedKeys = map[string]bool{
	"access_token":   true,
	"continue_token": true,
	"previous_token": true,
	"authorization":  true,
}

// New creates a JSON slog logger configured at the provided level. If the
// level string is invalid it defaults to info. attrs are attached to every record.
func New(level string, attrs ...any) *slog.Logger {
	return NewWithWriter(os.Stdout, level, attrs...)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, level string, attrs ...any) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: redact})
	return slog.New(handler).With(attrs...)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}
