package routes

import (
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/stokvel-pay/stokvel_pay/internal/auth"
    "github.com/stokvel-pay/stokvel_pay/internal/config"
    "github.com/stokvel-pay/stokvel_pay/internal/logging"
    "github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

func newApp(t *testing.T, secret string) *fiber.App {
    t.Helper()
    network := openpayments.NewInMemory()
    network.AddWallet("https://ilp.example/thandi", "ZAR", 2)
    network.AddWallet("https://ilp.example/stokvel", "ZAR", 2)

    app := fiber.New()
    err := Setup(app, Deps{
        Cfg: config.Config{
            AppName:            "StokvelPay",
            AppEnv:             "test",
            JWTSecret:          secret,
            CycleLockTTL:       time.Minute,
            AggregationCeiling: "100000000",
            OpenPayments:       config.OpenPayments{ClientWallet: "https://ilp.example/app", FinishURI: "https://api.example"},
        },
        Logger:       logging.Discard(),
        OpenPayments: network,
    })
    require.NoError(t, err)
    return app
}

func TestSetupRefusesMissingBackendsOutsideDev(t *testing.T) {
    err := Setup(fiber.New(), Deps{Cfg: config.Config{AppEnv: "production"}, Logger: logging.Discard()})
    assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
    app := newApp(t, "")

    resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
    require.NoError(t, err)
    assert.Equal(t, fiber.StatusOK, resp.StatusCode)

    resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
    require.NoError(t, err)
    assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
    app := newApp(t, "s3cret")
    body := `{"value":"1000","sender_wallet":"https://ilp.example/thandi","receiver_wallet":"https://ilp.example/stokvel"}`

    req := httptest.NewRequest(fiber.MethodPost, "/api/v1/authorizations", strings.NewReader(body))
    req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
    resp, err := app.Test(req)
    require.NoError(t, err)
    assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

    token, err := auth.NewVerifier("s3cret", jwtIssuer).Issue("scheduler", "", time.Minute)
    require.NoError(t, err)
    req = httptest.NewRequest(fiber.MethodPost, "/api/v1/authorizations", strings.NewReader(body))
    req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
    req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
    resp, err = app.Test(req)
    require.NoError(t, err)
    assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestConsentCallbackIsPublic(t *testing.T) {
    app := newApp(t, "s3cret")

    resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/authorizations/missing/consent?interact_ref=abc&hash=def", nil))
    require.NoError(t, err)
    assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
