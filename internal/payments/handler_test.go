package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokvel-pay/stokvel_pay/internal/grant"
	"github.com/stokvel-pay/stokvel_pay/internal/transfer"
)

func newTestApp(h harness) *fiber.App {
	app := fiber.New()
	handler := NewHandler(h.svc)
	app.Post("/authorizations", handler.Create)
	app.Get("/authorizations/:id", handler.Get)
	app.Get("/authorizations/:id/consent", handler.Consent)
	app.Post("/authorizations/:id/finalize", handler.Finalize)
	app.Post("/authorizations/:id/cycles", handler.RunCycle)
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHandlerAuthorizationLifecycle(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	status, body := do(t, app, fiber.MethodPost, "/authorizations", `{
		"variant": "contribution",
		"value": "1000",
		"sender_wallet": "$ilp.example/thandi",
		"receiver_wallet": "https://ilp.example/stokvel",
		"schedule": {"payment_periods": 12, "start_at": "2025-01-01T00:00:00Z", "number_of_periods": 1, "period_unit": "M"},
		"group_id": "group-1"
	}`)
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.NotEmpty(t, body["redirect_url"])

	view := body["authorization"].(map[string]any)
	id := view["id"].(string)
	assert.Equal(t, "R12/2025-01-01T00:00:00.000Z/P1M", view["interval"])
	assert.NotContains(t, view, "access_token")
	assert.NotContains(t, view, "continue_token")

	record, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	ref, err := h.network.Approve(record.ContinueURI)
	require.NoError(t, err)

	status, _ = do(t, app, fiber.MethodGet, "/authorizations/"+id+"/consent?interact_ref="+url.QueryEscape(ref)+"&hash=wrong", "")
	assert.Equal(t, fiber.StatusForbidden, status)

	hash := grant.InteractionHash(record.ClientNonce, record.FinishNonce, ref, record.AuthServer)
	status, body = do(t, app, fiber.MethodGet, "/authorizations/"+id+"/consent?interact_ref="+url.QueryEscape(ref)+"&hash="+url.QueryEscape(hash), "")
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "active", body["status"])

	status, body = do(t, app, fiber.MethodPost, "/authorizations/"+id+"/cycles", `{"value":"1200"}`)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, false, body["failed"])
	assert.Equal(t, member, body["payer"])
	assert.NotContains(t, body, "access_token")

	status, body = do(t, app, fiber.MethodGet, "/authorizations/"+id, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["cycles"], 2)
}

func TestHandlerErrorMapping(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"missing fields", fiber.MethodPost, "/authorizations", `{"value":"10"}`, fiber.StatusBadRequest},
		{"unknown wallet", fiber.MethodPost, "/authorizations", `{"value":"10","sender_wallet":"https://ilp.example/nobody","receiver_wallet":"https://ilp.example/stokvel"}`, fiber.StatusUnprocessableEntity},
		{"bad unit", fiber.MethodPost, "/authorizations", `{"value":"10","sender_wallet":"https://ilp.example/thandi","receiver_wallet":"https://ilp.example/stokvel","schedule":{"payment_periods":2,"period_unit":"fortnight"}}`, fiber.StatusBadRequest},
		{"unknown variant", fiber.MethodPost, "/authorizations", `{"variant":"lottery","value":"10","sender_wallet":"https://ilp.example/thandi","receiver_wallet":"https://ilp.example/stokvel"}`, fiber.StatusBadRequest},
		{"unknown authorization", fiber.MethodGet, "/authorizations/missing", "", fiber.StatusNotFound},
		{"cycle on unknown authorization", fiber.MethodPost, "/authorizations/missing/cycles", "", fiber.StatusNotFound},
		{"finalize without ref", fiber.MethodPost, "/authorizations/missing/finalize", `{}`, fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, app, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.want, status, body)
		})
	}
}

func TestHandlerFinalizeWithoutConsent(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	created := h.create(t)

	status, _ := do(t, app, fiber.MethodPost, "/authorizations/"+created.Record.ID+"/finalize", `{"interact_ref":"guess"}`)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = do(t, app, fiber.MethodPost, "/authorizations/"+created.Record.ID+"/cycles", "")
	assert.Equal(t, fiber.StatusConflict, status)
}

func TestMapErrorExecutionFailure(t *testing.T) {
	err := mapError(fmt.Errorf("initial payment: %w", transfer.ErrExecutionFailed))

	var fe *fiber.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fiber.StatusBadGateway, fe.Code)
}
