package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stokvel-pay/stokvel_pay/internal/grant"
	"github.com/stokvel-pay/stokvel_pay/internal/interval"
	"github.com/stokvel-pay/stokvel_pay/internal/logging"
	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

// Variant selects how the outgoing-payment limits are derived from the quote.
type Variant string

const (
	// VariantContribution uses the quote's exact amounts.
	VariantContribution Variant = "contribution"
	// VariantAggregation uses the configured ceiling so many contributions can
	// be collected under one consent.
	VariantAggregation Variant = "stokvel-aggregation"
	// VariantVariable bounds each cycle by a caller-supplied maximum.
	VariantVariable Variant = "variable"
)

const (
	scheduledExpiryGrace = 48 * time.Hour
	adHocExpiry          = 10 * time.Minute
)

// ErrInvalidInput indicates setup parameters that cannot produce a grant request.
var ErrInvalidInput = errors.New("invalid recurring authorization input")

// Resolver resolves wallet identifiers.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (openpayments.WalletAddress, error)
}

// Negotiator requests and continues grants.
type Negotiator interface {
	Request(ctx context.Context, wallet openpayments.WalletAddress, access grant.AccessRequest, opts grant.Options) (grant.Grant, error)
	Continue(ctx context.Context, continueURI, continueToken, interactRef string) (grant.Finalized, error)
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

// Schedule describes how often the grant's limits reset.
type Schedule struct {
	// PaymentPeriods is the repeat count. Zero means no interval is attached.
	PaymentPeriods  int        `json:"paymentPeriods"`
	StartAt         *time.Time `json:"startAt,omitempty"`
	NumberOfPeriods int        `json:"numberOfPeriods"`
	PeriodUnit      string     `json:"periodUnit"`
	Interval        string     `json:"interval,omitempty"`
}

// SetupInput carries the parameters of one recurring authorization.
type SetupInput struct {
	Variant        Variant
	Value          string
	MaxValue       string
	SenderWallet   string
	ReceiverWallet string
	Schedule       Schedule
	UserID         string
	GroupID        string
	CorrelationID  string
	FinishURI      string
}

// Authorization is the result of a setup: a pending grant plus what the caller
// must persist to finish it.
type Authorization struct {
	Variant         Variant                    `json:"variant"`
	SenderWallet    openpayments.WalletAddress `json:"senderWallet"`
	ReceiverWallet  openpayments.WalletAddress `json:"receiverWallet"`
	Grant           grant.Pending              `json:"grant"`
	QuoteID         string                     `json:"quoteId"`
	IncomingPayment string                     `json:"incomingPayment"`
	Limits          openpayments.Limits        `json:"limits"`
	Schedule        Schedule                   `json:"schedule"`
}

// FinalizeInput identifies the pending grant to exchange and the quote to pay.
type FinalizeInput struct {
	SenderWallet  string
	QuoteID       string
	ContinueURI   string
	ContinueToken string
	InteractRef   string
}

// InitialPayment is the outcome of finalizing an authorization.
type InitialPayment struct {
	OutgoingPayment *openpayments.OutgoingPayment `json:"outgoingPayment,omitempty"`
	ManageURL       string                        `json:"manageUrl"`
	AccessToken     string                        `json:"accessToken"`
}

// Config configures the manager.
type Config struct {
	// AggregationCeiling is the limit value used by VariantAggregation.
	AggregationCeiling string
}

// Manager sets up recurring payment authorizations.
type Manager struct {
	wallets    Resolver
	negotiator Negotiator
	quotes     Quoter
	payments   Payments
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager builds a recurring authorization manager.
func NewManager(wallets Resolver, negotiator Negotiator, quotes Quoter, payments Payments, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.AggregationCeiling == "" {
		cfg.AggregationCeiling = "100000000"
	}
	return &Manager{
		wallets:    wallets,
		negotiator: negotiator,
		quotes:     quotes,
		payments:   payments,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Setup resolves both wallets, creates the incoming payment, quotes it, and
// requests an interactive outgoing-payment grant bounded by the variant's limits.
func (m *Manager) Setup(ctx context.Context, in SetupInput) (Authorization, error) {
	if in.Variant == "" {
		in.Variant = VariantContribution
	}
	schedule, err := m.schedule(in.Schedule)
	if err != nil {
		return Authorization{}, err
	}
	if err := checkVariant(in); err != nil {
		return Authorization{}, err
	}

	receiver, err := m.wallets.Resolve(ctx, in.ReceiverWallet)
	if err != nil {
		return Authorization{}, err
	}
	sender, err := m.wallets.Resolve(ctx, in.SenderWallet)
	if err != nil {
		return Authorization{}, err
	}

	expiresAt := m.now().Add(adHocExpiry)
	if schedule.StartAt != nil {
		expiresAt = schedule.StartAt.Add(scheduledExpiryGrace)
	}
	incoming, err := m.payments.CreateIncoming(ctx, receiver, in.Value, expiresAt, map[string]string{
		"userId":  in.UserID,
		"groupId": in.GroupID,
	})
	if err != nil {
		return Authorization{}, err
	}

	q, err := m.quotes.Quote(ctx, sender, incoming.ID)
	if err != nil {
		return Authorization{}, err
	}

	limits, err := m.limits(in, q)
	if err != nil {
		return Authorization{}, err
	}
	limits.Interval = schedule.Interval

	access, err := grant.Build(grant.KindOutgoingPayment, sender.ID, &limits)
	if err != nil {
		return Authorization{}, err
	}
	g, err := m.negotiator.Request(ctx, sender, access, grant.Options{
		Interactive:   true,
		FinishURI:     in.FinishURI,
		CorrelationID: in.CorrelationID,
		UserID:        in.UserID,
		GroupID:       in.GroupID,
		QuoteID:       q.ID,
	})
	if err != nil {
		return Authorization{}, err
	}
	if g.Pending == nil {
		return Authorization{}, fmt.Errorf("%w: outgoing-payment grant was issued without consent", grant.ErrUnexpectedInteraction)
	}

	m.logger.Info("recurring.setup",
		"variant", in.Variant,
		"sender", sender.ID,
		"receiver", receiver.ID,
		"quote_id", q.ID,
		"interval", schedule.Interval,
		"correlation_id", in.CorrelationID,
	)

	return Authorization{
		Variant:         in.Variant,
		SenderWallet:    sender,
		ReceiverWallet:  receiver,
		Grant:           *g.Pending,
		QuoteID:         q.ID,
		IncomingPayment: incoming.ID,
		Limits:          limits,
		Schedule:        schedule,
	}, nil
}

// FinalizeInitialPayment continues the consented grant and makes the first
// outgoing payment with the finalized token. When the payment fails the
// finalized manage URL and token are still returned with the error.
func (m *Manager) FinalizeInitialPayment(ctx context.Context, in FinalizeInput) (InitialPayment, error) {
	if in.QuoteID == "" || in.ContinueURI == "" || in.ContinueToken == "" {
		return InitialPayment{}, fmt.Errorf("%w: quote id, continue uri and continue token are required", ErrInvalidInput)
	}
	sender, err := m.wallets.Resolve(ctx, in.SenderWallet)
	if err != nil {
		return InitialPayment{}, err
	}

	final, err := m.negotiator.Continue(ctx, in.ContinueURI, in.ContinueToken, in.InteractRef)
	if err != nil {
		return InitialPayment{}, err
	}
	out := InitialPayment{ManageURL: final.ManageURL, AccessToken: final.AccessToken}

	op, err := m.payments.Pay(ctx, sender, final.AccessToken, in.QuoteID)
	if err != nil {
		return out, err
	}
	out.OutgoingPayment = &op
	m.logger.Info("recurring.initial_payment", "sender", sender.ID, "quote_id", in.QuoteID, "outgoing_payment", op.ID)
	return out, nil
}

func (m *Manager) schedule(s Schedule) (Schedule, error) {
	if s.StartAt != nil {
		start := s.StartAt.UTC().Truncate(time.Millisecond)
		s.StartAt = &start
	}
	if s.PaymentPeriods <= 0 {
		s.PaymentPeriods = 0
		s.Interval = ""
		return s, nil
	}

	unit, embedded, err := interval.ParseUnit(s.PeriodUnit)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if s.NumberOfPeriods <= 0 {
		s.NumberOfPeriods = embedded
	}
	if s.NumberOfPeriods <= 0 {
		s.NumberOfPeriods = 1
	}
	start := m.now().UTC().Truncate(time.Millisecond)
	if s.StartAt != nil {
		start = *s.StartAt
	}

	iv := interval.Interval{RepeatCount: s.PaymentPeriods, Start: start, PeriodCount: s.NumberOfPeriods, Unit: unit}
	encoded, err := iv.Format()
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	s.PeriodUnit = string(unit)
	s.Interval = encoded
	return s, nil
}

// checkVariant rejects inputs that could only fail after remote resources
// were created.
func checkVariant(in SetupInput) error {
	switch in.Variant {
	case VariantContribution, VariantAggregation:
		return nil
	case VariantVariable:
		mx, err := decimal.NewFromString(in.MaxValue)
		if err != nil {
			return fmt.Errorf("%w: max value %q", ErrInvalidInput, in.MaxValue)
		}
		if mx.IsNegative() || !mx.Equal(mx.Truncate(0)) {
			return fmt.Errorf("%w: max value %q must be a non-negative integer", ErrInvalidInput, in.MaxValue)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, in.Variant)
	}
}

func (m *Manager) limits(in SetupInput, q openpayments.Quote) (openpayments.Limits, error) {
	debit, receive := q.DebitAmount, q.ReceiveAmount
	switch in.Variant {
	case VariantContribution:
	case VariantAggregation:
		debit = debit.WithValue(m.cfg.AggregationCeiling)
		receive = receive.WithValue(m.cfg.AggregationCeiling)
	case VariantVariable:
		maxReceive := receive.WithValue(in.MaxValue)
		if err := maxReceive.Validate(); err != nil {
			return openpayments.Limits{}, fmt.Errorf("%w: max value: %v", ErrInvalidInput, err)
		}
		maxDebit, err := scaleDebit(q, in.MaxValue)
		if err != nil {
			return openpayments.Limits{}, err
		}
		debit, receive = debit.WithValue(maxDebit), maxReceive
	default:
		return openpayments.Limits{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, in.Variant)
	}
	return openpayments.Limits{DebitAmount: &debit, ReceiveAmount: &receive}, nil
}

// scaleDebit applies the quote's debit/receive ratio to maxReceive, rounding up.
func scaleDebit(q openpayments.Quote, maxReceive string) (string, error) {
	d, err := decimal.NewFromString(q.DebitAmount.Value)
	if err != nil {
		return "", fmt.Errorf("%w: quote debit: %v", ErrInvalidInput, err)
	}
	r, err := decimal.NewFromString(q.ReceiveAmount.Value)
	if err != nil || r.IsZero() {
		return "", fmt.Errorf("%w: quote receive amount %q", ErrInvalidInput, q.ReceiveAmount.Value)
	}
	mx, err := decimal.NewFromString(maxReceive)
	if err != nil {
		return "", fmt.Errorf("%w: max value: %v", ErrInvalidInput, err)
	}
	return mx.Mul(d).Div(r).Ceil().String(), nil
}
