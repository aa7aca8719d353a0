package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits structured logs for each request/response lifecycle event,
// tagged with the matched route and the authenticated caller.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("route", c.Route().Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if subject, _ := c.Locals(SubjectLocal).(string); subject != "" {
			attrs = append(attrs, slog.String("subject", subject))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			if status >= fiber.StatusInternalServerError {
				logger.Error("request completed", attrs...)
			} else {
				logger.Warn("request completed", attrs...)
			}
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
