package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stokvel-pay/stokvel_pay/internal/grant"
	"github.com/stokvel-pay/stokvel_pay/internal/logging"
	"github.com/stokvel-pay/stokvel_pay/internal/metrics"
	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

// ErrCreationFailed wraps every failure to produce a quote.
var ErrCreationFailed = errors.New("quote creation failed")

// Granter obtains grants. Satisfied by *grant.Negotiator.
type Granter interface {
	Request(ctx context.Context, wallet openpayments.WalletAddress, access grant.AccessRequest, opts grant.Options) (grant.Grant, error)
}

// ResourceServer creates quotes.
type ResourceServer interface {
	CreateQuote(ctx context.Context, resourceServer, accessToken string, req openpayments.QuoteRequest) (openpayments.Quote, error)
}

// Engine prices a payment from a payer wallet to an incoming payment.
type Engine struct {
	granter Granter
	rs      ResourceServer
	logger  *slog.Logger
}

// NewEngine builds a quote engine.
func NewEngine(granter Granter, rs ResourceServer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{granter: granter, rs: rs, logger: logger}
}

// Quote requests a non-interactive quote grant on payer and creates a quote
// for incomingPayment. It makes one attempt.
func (e *Engine) Quote(ctx context.Context, payer openpayments.WalletAddress, incomingPayment string) (openpayments.Quote, error) {
	q, err := e.quote(ctx, payer, incomingPayment)
	metrics.Quotes.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		e.logger.Warn("quote.create failed", "payer", payer.ID, "receiver", incomingPayment, "error", err)
		return openpayments.Quote{}, err
	}
	e.logger.Info("quote.create", "payer", payer.ID, "quote_id", q.ID, "debit", q.DebitAmount.Value, "receive", q.ReceiveAmount.Value)
	return q, nil
}

func (e *Engine) quote(ctx context.Context, payer openpayments.WalletAddress, incomingPayment string) (openpayments.Quote, error) {
	if incomingPayment == "" {
		return openpayments.Quote{}, fmt.Errorf("%w: incoming payment is required", ErrCreationFailed)
	}
	g, err := e.granter.Request(ctx, payer, grant.QuoteAccess{}, grant.Options{})
	if err != nil {
		return openpayments.Quote{}, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	q, err := e.rs.CreateQuote(ctx, payer.ResourceURL(), g.Finalized.AccessToken, openpayments.QuoteRequest{
		Method:        "ilp",
		WalletAddress: payer.ID,
		Receiver:      incomingPayment,
	})
	if err != nil {
		return openpayments.Quote{}, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	if q.ID == "" {
		return openpayments.Quote{}, fmt.Errorf("%w: resource server returned no quote id", ErrCreationFailed)
	}
	return q, nil
}
