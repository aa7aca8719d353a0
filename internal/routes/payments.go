package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/stokvel-pay/stokvel_pay/internal/payments"
)

// RegisterConsentRoute wires the browser callback. It carries no bearer token.
func RegisterConsentRoute(r fiber.Router, h *payments.Handler) {
    r.Get("/authorizations/:id/consent", h.Consent)
}

// RegisterPaymentRoutes wires recurring authorization endpoints. cycleLock
// serializes cycles per authorization.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, cycleLock fiber.Handler) {
    r.Post("/authorizations", h.Create)
    r.Get("/authorizations/:id", h.Get)
    r.Post("/authorizations/:id/finalize", h.Finalize)
    r.Post("/authorizations/:id/cycles", cycleLock, h.RunCycle)
}
