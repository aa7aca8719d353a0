package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stokvel-pay/stokvel_pay/internal/cycle"
	"github.com/stokvel-pay/stokvel_pay/internal/grant"
	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
	"github.com/stokvel-pay/stokvel_pay/internal/quote"
	"github.com/stokvel-pay/stokvel_pay/internal/recurring"
	"github.com/stokvel-pay/stokvel_pay/internal/store"
	"github.com/stokvel-pay/stokvel_pay/internal/transfer"
	"github.com/stokvel-pay/stokvel_pay/internal/wallet"
)

// Handler exposes recurring authorization endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type scheduleRequest struct {
	PaymentPeriods  int        `json:"payment_periods"`
	StartAt         *time.Time `json:"start_at"`
	NumberOfPeriods int        `json:"number_of_periods"`
	PeriodUnit      string     `json:"period_unit"`
}

type createRequest struct {
	Variant        string          `json:"variant"`
	Value          string          `json:"value"`
	MaxValue       string          `json:"max_value"`
	SenderWallet   string          `json:"sender_wallet"`
	ReceiverWallet string          `json:"receiver_wallet"`
	Schedule       scheduleRequest `json:"schedule"`
	UserID         string          `json:"user_id"`
	GroupID        string          `json:"group_id"`
}

type finalizeRequest struct {
	InteractRef string `json:"interact_ref"`
}

type cycleRequest struct {
	Value string `json:"value"`
}

// authorizationView is a stored authorization without its bearer credentials.
type authorizationView struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	GroupID         string    `json:"group_id,omitempty"`
	Variant         string    `json:"variant"`
	SenderWallet    string    `json:"sender_wallet"`
	ReceiverWallet  string    `json:"receiver_wallet"`
	QuoteID         string    `json:"quote_id"`
	IncomingPayment string    `json:"incoming_payment,omitempty"`
	Interval        string    `json:"interval,omitempty"`
	RedirectURL     string    `json:"redirect_url,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func viewOf(a store.Authorization) authorizationView {
	return authorizationView{
		ID:              a.ID,
		UserID:          a.UserID,
		GroupID:         a.GroupID,
		Variant:         a.Variant,
		SenderWallet:    a.SenderWallet,
		ReceiverWallet:  a.ReceiverWallet,
		QuoteID:         a.QuoteID,
		IncomingPayment: a.IncomingPayment,
		Interval:        a.Interval,
		RedirectURL:     a.RedirectURL,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// Create sets up a recurring authorization and returns the consent redirect.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.SenderWallet == "" || req.ReceiverWallet == "" || req.Value == "" {
		return fiber.NewError(http.StatusBadRequest, "sender_wallet, receiver_wallet and value are required")
	}

	created, err := h.service.Create(c.UserContext(), CreateInput{
		Variant:        recurring.Variant(req.Variant),
		Value:          req.Value,
		MaxValue:       req.MaxValue,
		SenderWallet:   req.SenderWallet,
		ReceiverWallet: req.ReceiverWallet,
		Schedule: recurring.Schedule{
			PaymentPeriods:  req.Schedule.PaymentPeriods,
			StartAt:         req.Schedule.StartAt,
			NumberOfPeriods: req.Schedule.NumberOfPeriods,
			PeriodUnit:      req.Schedule.PeriodUnit,
		},
		UserID:  req.UserID,
		GroupID: req.GroupID,
	})
	if err != nil {
		return mapError(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"authorization": viewOf(created.Record),
		"redirect_url":  created.Setup.Grant.RedirectURL,
		"limits":        created.Setup.Limits,
		"schedule":      created.Setup.Schedule,
	})
}

// Consent is the browser callback from the authorization server.
func (h *Handler) Consent(c *fiber.Ctx) error {
	interactRef := c.Query("interact_ref")
	if interactRef == "" {
		return fiber.NewError(http.StatusBadRequest, "interact_ref is required")
	}
	res, err := h.service.Consent(c.UserContext(), c.Params("id"), interactRef, c.Query("hash"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"status": store.StatusActive, "outgoing_payment": res.OutgoingPayment})
}

// Finalize continues a consented grant and makes the initial payment.
func (h *Handler) Finalize(c *fiber.Ctx) error {
	var req finalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.InteractRef == "" {
		return fiber.NewError(http.StatusBadRequest, "interact_ref is required")
	}
	res, err := h.service.Finalize(c.UserContext(), c.Params("id"), req.InteractRef)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"status": store.StatusActive, "outgoing_payment": res.OutgoingPayment})
}

// RunCycle executes one payment cycle. A failed payment is still a 200: the
// token was rotated and the result says failed.
func (h *Handler) RunCycle(c *fiber.Ctx) error {
	var req cycleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	res, err := h.service.RunCycle(c.UserContext(), c.Params("id"), req.Value)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(cycleView(res))
}

// Get returns the authorization and its cycle history.
func (h *Handler) Get(c *fiber.Ctx) error {
	record, cycles, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"authorization": viewOf(record), "cycles": cycles})
}

func cycleView(res cycle.Result) fiber.Map {
	return fiber.Map{
		"outgoing_payment": res.OutgoingPayment,
		"payer":            res.Payer,
		"quote_id":         res.QuoteID,
		"debit_amount":     res.DebitAmount,
		"receive_amount":   res.ReceiveAmount,
		"failed":           res.Failed,
	}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "authorization not found")
	case errors.Is(err, recurring.ErrInvalidInput), errors.Is(err, grant.ErrInvalidAccess), errors.Is(err, grant.ErrInvalidKind):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrResolution):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, grant.ErrInteractionHashMismatch):
		return fiber.NewError(http.StatusForbidden, "interaction hash mismatch")
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrNotActive):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, grant.ErrNotAccepted):
		return fiber.NewError(http.StatusConflict, "grant not accepted")
	case errors.Is(err, grant.ErrRotationFailed):
		return fiber.NewError(http.StatusConflict, "token rotation failed")
	case errors.Is(err, grant.ErrUnexpectedInteraction), errors.Is(err, quote.ErrCreationFailed),
		errors.Is(err, transfer.ErrIncomingFailed), errors.Is(err, transfer.ErrExecutionFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case openpayments.StatusOf(err) != 0:
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
