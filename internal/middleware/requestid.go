package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

type requestIDKey struct{}

// RequestID ensures each request has a stable request identifier for tracing
// and logging. The id is also placed on the user context so engine calls made
// with c.UserContext() can be correlated.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)

		c.Locals(requestIDHeader, reqID)
		c.SetUserContext(context.WithValue(c.UserContext(), requestIDKey{}, reqID))

		return c.Next()
	}
}

// RequestIDFrom returns the request id stored by RequestID, if any.
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}

// RequestIDFromContext returns the request id carried by ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
