package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stokvel-pay/stokvel_pay/internal/grant"
	"github.com/stokvel-pay/stokvel_pay/internal/logging"
	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

var (
	// ErrIncomingFailed indicates the receiver-side payment could not be created.
	ErrIncomingFailed = errors.New("incoming payment creation failed")
	// ErrExecutionFailed indicates the outgoing payment could not be created.
	ErrExecutionFailed = errors.New("payment execution failed")
)

// Granter obtains grants. Satisfied by *grant.Negotiator.
type Granter interface {
	Request(ctx context.Context, wallet openpayments.WalletAddress, access grant.AccessRequest, opts grant.Options) (grant.Grant, error)
}

// ResourceServer creates payment resources.
type ResourceServer interface {
	CreateIncomingPayment(ctx context.Context, resourceServer, accessToken string, req openpayments.IncomingPaymentRequest) (openpayments.IncomingPayment, error)
	CreateOutgoingPayment(ctx context.Context, resourceServer, accessToken string, req openpayments.OutgoingPaymentRequest) (openpayments.OutgoingPayment, error)
}

// Executor creates incoming payments and executes quotes.
type Executor struct {
	granter Granter
	rs      ResourceServer
	logger  *slog.Logger
}

// NewExecutor builds a payment executor.
func NewExecutor(granter Granter, rs ResourceServer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{granter: granter, rs: rs, logger: logger}
}

// CreateIncoming obtains a non-interactive incoming-payment grant on receiver
// and creates an incoming payment for value in the receiver's asset.
func (e *Executor) CreateIncoming(ctx context.Context, receiver openpayments.WalletAddress, value string, expiresAt time.Time, metadata map[string]string) (openpayments.IncomingPayment, error) {
	amount := openpayments.Amount{Value: value, AssetCode: receiver.AssetCode, AssetScale: receiver.AssetScale}
	if err := amount.Validate(); err != nil {
		return openpayments.IncomingPayment{}, fmt.Errorf("%w: %v", ErrIncomingFailed, err)
	}

	g, err := e.granter.Request(ctx, receiver, grant.IncomingPaymentAccess{}, grant.Options{})
	if err != nil {
		return openpayments.IncomingPayment{}, fmt.Errorf("%w: %w", ErrIncomingFailed, err)
	}

	ip, err := e.rs.CreateIncomingPayment(ctx, receiver.ResourceURL(), g.Finalized.AccessToken, openpayments.IncomingPaymentRequest{
		WalletAddress:  receiver.ID,
		IncomingAmount: &amount,
		ExpiresAt:      openpayments.FormatInstant(expiresAt),
		Metadata:       metadata,
	})
	if err != nil {
		e.logger.Warn("incoming_payment.create failed", "receiver", receiver.ID, "error", err)
		return openpayments.IncomingPayment{}, fmt.Errorf("%w: %w", ErrIncomingFailed, err)
	}
	e.logger.Info("incoming_payment.create", "receiver", receiver.ID, "incoming_payment", ip.ID, "value", value)
	return ip, nil
}

// Pay creates the outgoing payment for quoteID on payer using accessToken.
func (e *Executor) Pay(ctx context.Context, payer openpayments.WalletAddress, accessToken, quoteID string) (openpayments.OutgoingPayment, error) {
	op, err := e.rs.CreateOutgoingPayment(ctx, payer.ResourceURL(), accessToken, openpayments.OutgoingPaymentRequest{
		WalletAddress: payer.ID,
		QuoteID:       quoteID,
	})
	if err != nil {
		e.logger.Warn("outgoing_payment.create failed", "payer", payer.ID, "quote_id", quoteID, "error", err)
		return openpayments.OutgoingPayment{}, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	e.logger.Info("outgoing_payment.create", "payer", payer.ID, "quote_id", quoteID, "outgoing_payment", op.ID)
	return op, nil
}
