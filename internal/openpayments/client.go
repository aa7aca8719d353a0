package openpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 1 << 20
	gnapScheme            = "GNAP "
)

// Client is the set of Open Payments operations the engine consumes.
type Client interface {
	GetWalletAddress(ctx context.Context, walletURL string) (WalletAddress, error)
	RequestGrant(ctx context.Context, authServer string, req GrantRequest) (GrantResponse, error)
	ContinueGrant(ctx context.Context, continueURI, continueToken, interactRef string) (GrantResponse, error)
	RotateToken(ctx context.Context, manageURL, accessToken string) (TokenResponse, error)
	CreateIncomingPayment(ctx context.Context, resourceServer, accessToken string, req IncomingPaymentRequest) (IncomingPayment, error)
	CreateQuote(ctx context.Context, resourceServer, accessToken string, req QuoteRequest) (Quote, error)
	CreateOutgoingPayment(ctx context.Context, resourceServer, accessToken string, req OutgoingPaymentRequest) (OutgoingPayment, error)
}

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Signer attaches HTTP message signatures to outbound requests. Key material
// lives with the signer; the client only calls it.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// Config configures the HTTP client.
type Config struct {
	// ClientWallet is the wallet address URL identifying this application to
	// authorization servers.
	ClientWallet   string
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
	Signer         Signer
}

// HTTPClient talks to wallet directories, authorization servers and resource
// servers over HTTP.
type HTTPClient struct {
	cfg  Config
	http HTTPDoer
}

// NewHTTPClient validates cfg and builds a client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	cfg.ClientWallet = NormalizeWalletURL(strings.TrimSpace(cfg.ClientWallet))
	if cfg.ClientWallet == "" {
		return nil, fmt.Errorf("openpayments: client wallet address is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &HTTPClient{cfg: cfg, http: doer}, nil
}

// ClientWallet returns the wallet address presented to authorization servers.
func (c *HTTPClient) ClientWallet() string {
	return c.cfg.ClientWallet
}

// GetWalletAddress fetches wallet metadata.
func (c *HTTPClient) GetWalletAddress(ctx context.Context, walletURL string) (WalletAddress, error) {
	var out WalletAddress
	if err := c.do(ctx, "wallet.get", http.MethodGet, walletURL, "", nil, &out); err != nil {
		return WalletAddress{}, err
	}
	return out, nil
}

// RequestGrant posts a grant request to authServer.
func (c *HTTPClient) RequestGrant(ctx context.Context, authServer string, req GrantRequest) (GrantResponse, error) {
	if req.Client == "" {
		req.Client = c.cfg.ClientWallet
	}
	var out GrantResponse
	if err := c.do(ctx, "grant.request", http.MethodPost, authServer, "", req, &out); err != nil {
		return GrantResponse{}, err
	}
	return out, nil
}

// ContinueGrant exchanges a completed interaction for a token.
func (c *HTTPClient) ContinueGrant(ctx context.Context, continueURI, continueToken, interactRef string) (GrantResponse, error) {
	var body any
	if interactRef != "" {
		body = map[string]string{"interact_ref": interactRef}
	}
	var out GrantResponse
	if err := c.do(ctx, "grant.continue", http.MethodPost, continueURI, continueToken, body, &out); err != nil {
		return GrantResponse{}, err
	}
	return out, nil
}

// RotateToken asks the authorization server for a replacement token.
func (c *HTTPClient) RotateToken(ctx context.Context, manageURL, accessToken string) (TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, "token.rotate", http.MethodPost, manageURL, accessToken, nil, &out); err != nil {
		return TokenResponse{}, err
	}
	return out, nil
}

// CreateIncomingPayment creates an incoming payment on resourceServer.
func (c *HTTPClient) CreateIncomingPayment(ctx context.Context, resourceServer, accessToken string, req IncomingPaymentRequest) (IncomingPayment, error) {
	var out IncomingPayment
	if err := c.do(ctx, "incoming_payment.create", http.MethodPost, joinPath(resourceServer, "incoming-payments"), accessToken, req, &out); err != nil {
		return IncomingPayment{}, err
	}
	return out, nil
}

// CreateQuote creates a quote on resourceServer.
func (c *HTTPClient) CreateQuote(ctx context.Context, resourceServer, accessToken string, req QuoteRequest) (Quote, error) {
	if req.Method == "" {
		req.Method = "ilp"
	}
	var out Quote
	if err := c.do(ctx, "quote.create", http.MethodPost, joinPath(resourceServer, "quotes"), accessToken, req, &out); err != nil {
		return Quote{}, err
	}
	return out, nil
}

// CreateOutgoingPayment creates an outgoing payment on resourceServer.
func (c *HTTPClient) CreateOutgoingPayment(ctx context.Context, resourceServer, accessToken string, req OutgoingPaymentRequest) (OutgoingPayment, error) {
	var out OutgoingPayment
	if err := c.do(ctx, "outgoing_payment.create", http.MethodPost, joinPath(resourceServer, "outgoing-payments"), accessToken, req, &out); err != nil {
		return OutgoingPayment{}, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, target, token string, in, out any) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("openpayments: %s: target url is required", op)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("openpayments: %s: marshal request: %w", op, err)
		}
		body = encoded
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openpayments: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", gnapScheme+token)
	}
	if c.cfg.Signer != nil {
		if err := c.cfg.Signer.Sign(req, body); err != nil {
			return fmt.Errorf("openpayments: %s: sign request: %w", op, err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openpayments: %s: %w", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return fmt.Errorf("openpayments: %s: read response: %w", op, err)
	}
	if len(payload) > maxResponseBodyBytes {
		return fmt.Errorf("openpayments: %s: response exceeds %d bytes", op, maxResponseBodyBytes)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &ResponseError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("openpayments: %s: decode response: %w", op, err)
	}
	return nil
}

func joinPath(base, segment string) string {
	return strings.TrimRight(base, "/") + "/" + segment
}

// NormalizeWalletURL expands the "$host/path" shorthand into an https URL.
func NormalizeWalletURL(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "$") {
		return "https://" + strings.TrimPrefix(id, "$")
	}
	return id
}

var _ Client = (*HTTPClient)(nil)
