package server

import (
    "context"
    "errors"
    "log/slog"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/stokvel-pay/stokvel_pay/internal/config"
    "github.com/stokvel-pay/stokvel_pay/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
    app *fiber.App
    cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// db and cache may be nil in development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
    app := fiber.New(fiber.Config{
        AppName:      cfg.AppName,
        ReadTimeout:  30 * time.Second,
        // Cycles make several sequential Open Payments calls.
        WriteTimeout: 2 * cfg.OpenPayments.Timeout,
        ErrorHandler: errorHandler(logger),
    })

    if err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}); err != nil {
        return nil, err
    }

    return &Server{app: app, cfg: cfg}, nil
}

// errorHandler renders errors as JSON so API clients get a stable shape.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
    return func(c *fiber.Ctx, err error) error {
        code := fiber.StatusInternalServerError
        var fe *fiber.Error
        if errors.As(err, &fe) {
            code = fe.Code
        }
        if code >= fiber.StatusInternalServerError {
            logger.Error("request failed", "path", c.Path(), "status", code, "error", err)
        }
        return c.Status(code).JSON(fiber.Map{"error": err.Error()})
    }
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
    return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
    return s.app.ShutdownWithContext(ctx)
}
