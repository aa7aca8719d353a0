package openpayments

import (
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// WalletAddress is the metadata published by a wallet address directory.
type WalletAddress struct {
	ID             string `json:"id"`
	PublicName     string `json:"publicName,omitempty"`
	AssetCode      string `json:"assetCode"`
	AssetScale     uint8  `json:"assetScale"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
}

// ResourceURL returns the resource server base for the wallet, falling back to
// the origin of the wallet id when the directory omits it.
func (w WalletAddress) ResourceURL() string {
	if w.ResourceServer != "" {
		return w.ResourceServer
	}
	u, err := url.Parse(w.ID)
	if err != nil || u.Host == "" {
		return w.ID
	}
	return u.Scheme + "://" + u.Host
}

// Amount is a scaled integer value in a given asset. Value is never a float.
type Amount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale uint8  `json:"assetScale"`
}

// Validate checks that Value is a non-negative integer string.
func (a Amount) Validate() error {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return fmt.Errorf("amount value %q: %w", a.Value, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("amount value %q must not be negative", a.Value)
	}
	if !d.Equal(d.Truncate(0)) {
		return fmt.Errorf("amount value %q must be an integer in minor units", a.Value)
	}
	if a.AssetCode == "" {
		return fmt.Errorf("amount asset code is required")
	}
	return nil
}

// Times multiplies the amount by n, keeping the asset.
func (a Amount) Times(n int64) (Amount, error) {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return Amount{}, fmt.Errorf("amount value %q: %w", a.Value, err)
	}
	a.Value = d.Mul(decimal.NewFromInt(n)).String()
	return a, nil
}

// WithValue returns a copy of a carrying value.
func (a Amount) WithValue(value string) Amount {
	a.Value = value
	return a
}

// IsZero reports whether the amount carries no value.
func (a Amount) IsZero() bool {
	if a.Value == "" {
		return true
	}
	d, err := decimal.NewFromString(a.Value)
	return err == nil && d.IsZero()
}

// Limits bounds what an outgoing-payment grant may spend.
type Limits struct {
	DebitAmount   *Amount `json:"debitAmount,omitempty"`
	ReceiveAmount *Amount `json:"receiveAmount,omitempty"`
	Interval      string  `json:"interval,omitempty"`
}

// AccessItem is one entry of the access array in grant requests and tokens.
type AccessItem struct {
	Type       string   `json:"type"`
	Actions    []string `json:"actions"`
	Identifier string   `json:"identifier,omitempty"`
	Limits     *Limits  `json:"limits,omitempty"`
}

// GrantRequest is the body POSTed to an authorization server.
type GrantRequest struct {
	AccessToken AccessTokenRequest `json:"access_token"`
	Client      string             `json:"client"`
	Interact    *InteractRequest   `json:"interact,omitempty"`
}

// AccessTokenRequest wraps the requested access.
type AccessTokenRequest struct {
	Access []AccessItem `json:"access"`
}

// InteractRequest asks the authorization server for redirect-based consent.
type InteractRequest struct {
	Start  []string        `json:"start"`
	Finish *InteractFinish `json:"finish,omitempty"`
}

// InteractFinish tells the authorization server where to send the user after consent.
type InteractFinish struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
	Nonce  string `json:"nonce"`
}

// GrantResponse is the authorization server answer to a request or continuation.
// Exactly one of AccessToken and Interact is expected to be set.
type GrantResponse struct {
	AccessToken *AccessToken      `json:"access_token,omitempty"`
	Interact    *InteractResponse `json:"interact,omitempty"`
	Continue    *Continuation     `json:"continue,omitempty"`
}

// IsPending reports whether the grant still needs user interaction.
func (g GrantResponse) IsPending() bool {
	return g.Interact != nil && g.AccessToken == nil
}

// IsFinalized reports whether the grant carries a usable access token.
func (g GrantResponse) IsFinalized() bool {
	return g.AccessToken != nil && g.AccessToken.Value != ""
}

// AccessToken is an issued grant token.
type AccessToken struct {
	Value     string       `json:"value"`
	Manage    string       `json:"manage"`
	ExpiresIn int64        `json:"expires_in,omitempty"`
	Access    []AccessItem `json:"access,omitempty"`
}

// InteractResponse describes where the user must go to consent.
type InteractResponse struct {
	Redirect string `json:"redirect"`
	Finish   string `json:"finish"`
}

// Continuation is used to exchange a completed interaction for a token.
type Continuation struct {
	AccessToken ContinueToken `json:"access_token"`
	URI         string        `json:"uri"`
	Wait        int64         `json:"wait,omitempty"`
}

// ContinueToken is the bearer used on the continuation URI.
type ContinueToken struct {
	Value string `json:"value"`
}

// TokenResponse is returned by token rotation.
type TokenResponse struct {
	AccessToken *AccessToken `json:"access_token"`
}

// IncomingPaymentRequest creates a payment placeholder on a receiving wallet.
type IncomingPaymentRequest struct {
	WalletAddress  string            `json:"walletAddress"`
	IncomingAmount *Amount           `json:"incomingAmount,omitempty"`
	ExpiresAt      string            `json:"expiresAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IncomingPayment is a receiver-side payment resource.
type IncomingPayment struct {
	ID             string  `json:"id"`
	WalletAddress  string  `json:"walletAddress"`
	IncomingAmount *Amount `json:"incomingAmount,omitempty"`
	ReceivedAmount *Amount `json:"receivedAmount,omitempty"`
	Completed      bool    `json:"completed"`
	ExpiresAt      string  `json:"expiresAt,omitempty"`
	CreatedAt      string  `json:"createdAt,omitempty"`
}

// QuoteRequest asks a sender's resource server to price a payment to receiver.
type QuoteRequest struct {
	Method        string `json:"method"`
	WalletAddress string `json:"walletAddress"`
	Receiver      string `json:"receiver"`
}

// Quote binds a debit amount to a receive amount for one incoming payment.
type Quote struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
	Receiver      string `json:"receiver"`
	DebitAmount   Amount `json:"debitAmount"`
	ReceiveAmount Amount `json:"receiveAmount"`
	Method        string `json:"method,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

// OutgoingPaymentRequest executes a quote.
type OutgoingPaymentRequest struct {
	WalletAddress string            `json:"walletAddress"`
	QuoteID       string            `json:"quoteId"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// OutgoingPayment is a sender-side payment resource.
type OutgoingPayment struct {
	ID            string  `json:"id"`
	WalletAddress string  `json:"walletAddress"`
	QuoteID       string  `json:"quoteId"`
	Receiver      string  `json:"receiver"`
	DebitAmount   *Amount `json:"debitAmount,omitempty"`
	ReceiveAmount *Amount `json:"receiveAmount,omitempty"`
	SentAmount    *Amount `json:"sentAmount,omitempty"`
	Failed        bool    `json:"failed"`
	CreatedAt     string  `json:"createdAt,omitempty"`
}

// FormatInstant renders t the way the protocol expects (UTC, millisecond precision).
func FormatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
