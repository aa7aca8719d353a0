package middleware

import (
    "context"
    "log/slog"
    "net/http"
    "sync"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/google/uuid"
    "github.com/redis/go-redis/v9"
)

const cycleLockPrefix = "stokvel:cycle-lock:"

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// CycleLock allows one request at a time per value of the route parameter
// param. Rotation invalidates the previous token, so two cycles on the same
// authorization must never overlap. Without Redis it falls back to an
// in-process lock.
func CycleLock(cache *redis.Client, ttl time.Duration, param string, logger *slog.Logger) fiber.Handler {
    if ttl <= 0 {
        ttl = 2 * time.Minute
    }
    var local sync.Map

    return func(c *fiber.Ctx) error {
        id := c.Params(param)
        if id == "" {
            return c.Next()
        }

        if cache == nil {
            if _, busy := local.LoadOrStore(id, struct{}{}); busy {
                return fiber.NewError(http.StatusConflict, "a payment cycle is already running for this authorization")
            }
            defer local.Delete(id)
            return c.Next()
        }

        key := cycleLockPrefix + id
        token := uuid.NewString()

        ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
        acquired, err := cache.SetNX(ctx, key, token, ttl).Result()
        cancel()
        if err != nil {
            logger.Error("cycle lock acquire failed", slog.String("authorization_id", id), slog.Any("error", err))
            return fiber.NewError(http.StatusServiceUnavailable, "cycle lock unavailable")
        }
        if !acquired {
            return fiber.NewError(http.StatusConflict, "a payment cycle is already running for this authorization")
        }

        defer func() {
            releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
            defer cancel()
            if err := releaseScript.Run(releaseCtx, cache, []string{key}, token).Err(); err != nil && err != redis.Nil {
                logger.Warn("cycle lock release failed", slog.String("authorization_id", id), slog.Any("error", err))
            }
        }()

        return c.Next()
    }
}
