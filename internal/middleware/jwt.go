package middleware

import (
    "net/http"
    "strings"

    "github.com/gofiber/fiber/v2"

    "github.com/stokvel-pay/stokvel_pay/internal/auth"
)

// SubjectLocal is the fiber.Ctx local holding the authenticated caller.
const SubjectLocal = "subject"

// JWTAuth returns a middleware that validates bearer tokens issued to trusted callers.
func JWTAuth(verifier *auth.Verifier) fiber.Handler {
    return func(c *fiber.Ctx) error {
        authz := c.Get(fiber.HeaderAuthorization)
        if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
            return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
        }
        tokenStr := strings.TrimSpace(authz[len("Bearer "):])
        claims, err := verifier.Parse(tokenStr)
        if err != nil {
            return fiber.NewError(http.StatusUnauthorized, "invalid token")
        }

        c.Locals(SubjectLocal, claims.Subject)
        return c.Next()
    }
}
