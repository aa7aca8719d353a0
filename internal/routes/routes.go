package routes

import (
    "context"
    "fmt"
    "log/slog"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/logger"
    "github.com/gofiber/fiber/v2/middleware/recover"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"

    "github.com/stokvel-pay/stokvel_pay/internal/auth"
    "github.com/stokvel-pay/stokvel_pay/internal/config"
    "github.com/stokvel-pay/stokvel_pay/internal/middleware"
    "github.com/stokvel-pay/stokvel_pay/internal/notification"
    "github.com/stokvel-pay/stokvel_pay/internal/openpayments"
    "github.com/stokvel-pay/stokvel_pay/internal/payments"
    "github.com/stokvel-pay/stokvel_pay/internal/store"
)

const jwtIssuer = "stokvel-pay"

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
    Cfg    config.Config
    DB     *pgxpool.Pool
    Cache  *redis.Client
    Logger *slog.Logger
    // OpenPayments replaces the HTTP client, e.g. with openpayments.NewInMemory in tests.
    OpenPayments openpayments.Client
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
    // Enforce DB/Redis presence outside of dev, even though config also checks.
    if !d.Cfg.IsDev() {
        if d.DB == nil {
            return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
        if d.Cache == nil {
            return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
    }
    // Middlewares
    app.Use(recover.New())
    app.Use(middleware.RequestID())
    // Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
    app.Use(logger.New(logger.Config{
        Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
        TimeFormat: "15:04:05",
        TimeZone:   "Local",
    }))
    app.Use(middleware.Audit(d.Logger))
    if d.Cache != nil {
        app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
    }

    // Health and metrics
    RegisterHealthRoutes(app, d)

    // Services and handlers
    client := d.OpenPayments
    if client == nil {
        httpClient, err := openpayments.NewHTTPClient(openpayments.Config{
            ClientWallet:   d.Cfg.OpenPayments.ClientWallet,
            RequestTimeout: d.Cfg.OpenPayments.Timeout,
        })
        if err != nil {
            return err
        }
        client = httpClient
    }

    var repo store.Repository
    if d.DB != nil {
        pg := store.NewPostgresRepository(d.DB)
        ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        if err := pg.EnsureSchema(ctx); err != nil {
            return fmt.Errorf("ensure schema: %w", err)
        }
        repo = pg
    } else {
        repo = store.NewMemoryRepository()
    }

    notifier := notification.NewLoggerNotifier(d.Logger)
    paymentSvc := payments.NewEngineService(client, repo, notifier, payments.EngineConfig{
        ClientWallet:       d.Cfg.OpenPayments.ClientWallet,
        PublicBaseURL:      d.Cfg.OpenPayments.FinishURI,
        AggregationCeiling: d.Cfg.AggregationCeiling,
    }, d.Logger)
    paymentHandler := payments.NewHandler(paymentSvc)

    // API routes
    api := app.Group("/api/v1")
    api.Get("/ping", func(c *fiber.Ctx) error {
        return c.Status(http.StatusOK).JSON(fiber.Map{
            "status":     "ok",
            "request_id": middleware.RequestIDFrom(c),
            "timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    // Public routes: the authorization server redirects the browser here.
    RegisterConsentRoute(api, paymentHandler)

    // Protected routes
    protected := api
    if d.Cfg.JWTSecret != "" {
        protected = api.Group("", middleware.JWTAuth(auth.NewVerifier(d.Cfg.JWTSecret, jwtIssuer)))
    } else {
        d.Logger.Warn("JWT_SECRET not set; api routes are unauthenticated", "env", d.Cfg.AppEnv)
    }
    cycleLock := middleware.CycleLock(d.Cache, d.Cfg.CycleLockTTL, "id", d.Logger)
    RegisterPaymentRoutes(protected, paymentHandler, cycleLock)

    return nil
}
