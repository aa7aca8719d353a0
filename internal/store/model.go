package store

import (
	"context"
	"errors"
	"time"
)

// Status tracks where an authorization is in its lifecycle.
type Status string

const (
	// StatusPending awaits user consent.
	StatusPending Status = "pending"
	// StatusActive has a finalized grant; cycles may run.
	StatusActive Status = "active"
	// StatusInitialPaymentFailed has a finalized grant but the first payment failed.
	StatusInitialPaymentFailed Status = "initial_payment_failed"
)

// ErrNotFound indicates no authorization exists for the identifier.
var ErrNotFound = errors.New("authorization not found")

// Authorization is the persisted state of one recurring payment authorization.
// Grant values are opaque pass-through data.
type Authorization struct {
	ID              string
	UserID          string
	GroupID         string
	Variant         string
	SenderWallet    string
	ReceiverWallet  string
	QuoteID         string
	IncomingPayment string
	ContinueURI     string
	ContinueToken   string
	ClientNonce     string
	FinishNonce     string
	AuthServer      string
	RedirectURL     string
	ManageURL       string
	AccessToken     string
	Interval        string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Cycle records the outcome of one payment cycle.
type Cycle struct {
	ID              string
	AuthorizationID string
	OutgoingPayment string
	QuoteID         string
	Value           string
	Failed          bool
	Error           string
	CreatedAt       time.Time
}

// Repository persists authorizations and their cycle history.
type Repository interface {
	Create(ctx context.Context, a Authorization) error
	Get(ctx context.Context, id string) (Authorization, error)
	SaveTokens(ctx context.Context, id, manageURL, accessToken string, status Status) error
	RecordCycle(ctx context.Context, c Cycle) error
	Cycles(ctx context.Context, authorizationID string) ([]Cycle, error)
}
