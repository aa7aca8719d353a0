package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stokvel-pay/stokvel_pay/internal/grant"
	"github.com/stokvel-pay/stokvel_pay/internal/logging"
	"github.com/stokvel-pay/stokvel_pay/internal/metrics"
	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

const incomingExpiry = 10 * time.Minute

var (
	// ErrMissingAccess indicates the rotated token has no outgoing-payment access to spend.
	ErrMissingAccess = errors.New("rotated token carries no outgoing-payment access")
	// ErrNoAmount indicates neither an override nor a limit gave the cycle an amount.
	ErrNoAmount = errors.New("no amount for payment cycle")
)

// Rotator rotates access tokens.
type Rotator interface {
	Rotate(ctx context.Context, manageURL, previousToken string) (grant.Finalized, error)
}

// Resolver resolves wallet identifiers.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (openpayments.WalletAddress, error)
}

// Quoter prices a payment to an incoming payment.
type Quoter interface {
	Quote(ctx context.Context, payer openpayments.WalletAddress, incomingPayment string) (openpayments.Quote, error)
}

// Payments creates incoming payments and executes quotes.
type Payments interface {
	CreateIncoming(ctx context.Context, receiver openpayments.WalletAddress, value string, expiresAt time.Time, metadata map[string]string) (openpayments.IncomingPayment, error)
	Pay(ctx context.Context, payer openpayments.WalletAddress, accessToken, quoteID string) (openpayments.OutgoingPayment, error)
}

// Input identifies the grant to spend from and where the money goes.
type Input struct {
	ManageURL      string
	PreviousToken  string
	ReceiverWallet string
	// Value overrides the grant's receive limit for this cycle, in the
	// receiver's minor units.
	Value string
}

// Result is the outcome of one cycle. ManageURL and AccessToken are the
// rotated values and must be persisted whatever the payment outcome.
type Result struct {
	OutgoingPayment *openpayments.OutgoingPayment `json:"outgoingPayment,omitempty"`
	ManageURL       string                        `json:"manageUrl"`
	AccessToken     string                        `json:"accessToken"`
	Payer           string                        `json:"payer,omitempty"`
	QuoteID         string                        `json:"quoteId,omitempty"`
	DebitAmount     *openpayments.Amount          `json:"debitAmount,omitempty"`
	ReceiveAmount   *openpayments.Amount          `json:"receiveAmount,omitempty"`
	Failed          bool                          `json:"failed"`
}

// Runner executes payment cycles against finalized grants. It holds no state
// between calls; callers must not run two cycles on one grant concurrently.
type Runner struct {
	rotator  Rotator
	wallets  Resolver
	quotes   Quoter
	payments Payments
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner builds a cycle runner.
func NewRunner(rotator Rotator, wallets Resolver, quotes Quoter, payments Payments, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{rotator: rotator, wallets: wallets, quotes: quotes, payments: payments, logger: logger, now: time.Now}
}

// Run rotates the token and pays one cycle with it. A rotation failure returns
// an error and no payment is attempted. After rotation every return carries
// the rotated token; an outgoing-payment failure is reported via Result.Failed.
func (r *Runner) Run(ctx context.Context, in Input) (Result, error) {
	started := r.now()
	res, err := r.run(ctx, in)

	status := "completed"
	switch {
	case err != nil:
		status = "error"
	case res.Failed:
		status = "failed"
	}
	metrics.PaymentCycles.WithLabelValues(status).Inc()
	metrics.CycleDuration.Observe(r.now().Sub(started).Seconds())
	return res, err
}

func (r *Runner) run(ctx context.Context, in Input) (Result, error) {
	rotated, err := r.rotator.Rotate(ctx, in.ManageURL, in.PreviousToken)
	if err != nil {
		return Result{}, err
	}
	res := Result{ManageURL: rotated.ManageURL, AccessToken: rotated.AccessToken}

	access, ok := rotated.OutgoingAccess()
	if !ok || access.Identifier == "" {
		return res, ErrMissingAccess
	}
	res.Payer = access.Identifier

	value := in.Value
	if value == "" && access.Limits != nil && access.Limits.ReceiveAmount != nil {
		value = access.Limits.ReceiveAmount.Value
	}
	if value == "" {
		return res, ErrNoAmount
	}

	receiver, err := r.wallets.Resolve(ctx, in.ReceiverWallet)
	if err != nil {
		return res, err
	}
	payer, err := r.wallets.Resolve(ctx, access.Identifier)
	if err != nil {
		return res, err
	}

	incoming, err := r.payments.CreateIncoming(ctx, receiver, value, r.now().Add(incomingExpiry), nil)
	if err != nil {
		return res, err
	}
	q, err := r.quotes.Quote(ctx, payer, incoming.ID)
	if err != nil {
		return res, err
	}
	res.QuoteID = q.ID

	op, err := r.payments.Pay(ctx, payer, rotated.AccessToken, q.ID)
	if err != nil {
		res.Failed = true
		res.DebitAmount, res.ReceiveAmount = echoLimits(access.Limits, payer, receiver)
		r.logger.Warn("cycle.failed", "payer", payer.ID, "receiver", receiver.ID, "quote_id", q.ID, "error", err)
		return res, nil
	}

	res.OutgoingPayment = &op
	res.DebitAmount = &q.DebitAmount
	res.ReceiveAmount = &q.ReceiveAmount
	r.logger.Info("cycle.completed", "payer", payer.ID, "receiver", receiver.ID, "quote_id", q.ID, "outgoing_payment", op.ID)
	return res, nil
}

// echoLimits returns the grant's limit amounts, or zero amounts in the
// wallets' assets when the grant has none.
func echoLimits(l *openpayments.Limits, payer, receiver openpayments.WalletAddress) (*openpayments.Amount, *openpayments.Amount) {
	debit := &openpayments.Amount{Value: "0", AssetCode: payer.AssetCode, AssetScale: payer.AssetScale}
	receive := &openpayments.Amount{Value: "0", AssetCode: receiver.AssetCode, AssetScale: receiver.AssetScale}
	if l == nil {
		return debit, receive
	}
	if l.DebitAmount != nil {
		a := *l.DebitAmount
		debit = &a
	}
	if l.ReceiveAmount != nil {
		a := *l.ReceiveAmount
		receive = &a
	}
	return debit, receive
}

// Describe renders a one-line summary of a result for notifications.
func Describe(res Result) string {
	if res.Failed {
		return fmt.Sprintf("payment from %s failed for quote %s", res.Payer, res.QuoteID)
	}
	if res.ReceiveAmount != nil {
		return fmt.Sprintf("received %s %s (scale %d) from %s", res.ReceiveAmount.Value, res.ReceiveAmount.AssetCode, res.ReceiveAmount.AssetScale, res.Payer)
	}
	return fmt.Sprintf("payment from %s completed", res.Payer)
}
