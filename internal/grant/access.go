package grant

import (
	"errors"
	"fmt"

	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

// Kind names a protected resource type a grant can cover.
type Kind string

const (
	KindIncomingPayment Kind = "incoming-payment"
	KindOutgoingPayment Kind = "outgoing-payment"
	KindQuote           Kind = "quote"
)

var (
	// ErrInvalidKind is a programming error: the caller asked for a resource
	// kind the protocol does not define.
	ErrInvalidKind = errors.New("invalid grant kind")
	// ErrInvalidAccess indicates an access request that violates its kind's shape.
	ErrInvalidAccess = errors.New("invalid access request")
)

// AccessRequest describes the access asked for in one grant. The concrete
// types are IncomingPaymentAccess, OutgoingPaymentAccess and QuoteAccess.
type AccessRequest interface {
	Kind() Kind
	sealed()
}

// IncomingPaymentAccess asks to manage incoming payments on a receiving wallet.
type IncomingPaymentAccess struct{}

// QuoteAccess asks to create quotes on a sending wallet.
type QuoteAccess struct{}

// OutgoingPaymentAccess asks to spend from the payer wallet within Limits.
type OutgoingPaymentAccess struct {
	Identifier string
	Limits     *openpayments.Limits
}

func (IncomingPaymentAccess) Kind() Kind { return KindIncomingPayment }
func (QuoteAccess) Kind() Kind           { return KindQuote }
func (OutgoingPaymentAccess) Kind() Kind { return KindOutgoingPayment }

func (IncomingPaymentAccess) sealed() {}
func (QuoteAccess) sealed()           {}
func (OutgoingPaymentAccess) sealed() {}

// Build returns the access request for kind. walletID and limits are only
// meaningful for outgoing payments, where walletID is required.
func Build(kind Kind, walletID string, limits *openpayments.Limits) (AccessRequest, error) {
	switch kind {
	case KindIncomingPayment, KindQuote:
		if limits != nil {
			return nil, fmt.Errorf("%w: %s does not take limits", ErrInvalidAccess, kind)
		}
		if kind == KindQuote {
			return QuoteAccess{}, nil
		}
		return IncomingPaymentAccess{}, nil
	case KindOutgoingPayment:
		if walletID == "" {
			return nil, fmt.Errorf("%w: outgoing-payment requires the payer wallet", ErrInvalidAccess)
		}
		return OutgoingPaymentAccess{Identifier: walletID, Limits: cloneLimits(limits)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// Item renders the access request in wire form. Action slices are fresh on
// every call.
func Item(req AccessRequest) openpayments.AccessItem {
	switch r := req.(type) {
	case IncomingPaymentAccess:
		return openpayments.AccessItem{Type: string(KindIncomingPayment), Actions: []string{"read", "create", "complete"}}
	case QuoteAccess:
		return openpayments.AccessItem{Type: string(KindQuote), Actions: []string{"read", "create", "read-all"}}
	case OutgoingPaymentAccess:
		return openpayments.AccessItem{
			Type:       string(KindOutgoingPayment),
			Actions:    []string{"read", "create", "read-all", "list", "list-all"},
			Identifier: r.Identifier,
			Limits:     cloneLimits(r.Limits),
		}
	default:
		panic(fmt.Sprintf("grant: unhandled access request %T", req))
	}
}

func cloneLimits(l *openpayments.Limits) *openpayments.Limits {
	if l == nil {
		return nil
	}
	out := openpayments.Limits{Interval: l.Interval}
	if l.DebitAmount != nil {
		a := *l.DebitAmount
		out.DebitAmount = &a
	}
	if l.ReceiveAmount != nil {
		a := *l.ReceiveAmount
		out.ReceiveAmount = &a
	}
	return &out
}
