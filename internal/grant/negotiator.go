package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/stokvel-pay/stokvel_pay/internal/logging"
	"github.com/stokvel-pay/stokvel_pay/internal/metrics"
	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

var (
	// ErrUnexpectedInteraction indicates the server demanded interaction for a
	// grant requested as non-interactive.
	ErrUnexpectedInteraction = errors.New("grant unexpectedly requires interaction")
	// ErrNotAccepted indicates the grant has not been consented to, or the
	// interaction was already consumed.
	ErrNotAccepted = errors.New("grant not accepted")
	// ErrRotationFailed indicates no replacement token was issued.
	ErrRotationFailed = errors.New("token rotation failed")
)

// AuthServer is the slice of the Open Payments client used for grant negotiation.
type AuthServer interface {
	RequestGrant(ctx context.Context, authServer string, req openpayments.GrantRequest) (openpayments.GrantResponse, error)
	ContinueGrant(ctx context.Context, continueURI, continueToken, interactRef string) (openpayments.GrantResponse, error)
	RotateToken(ctx context.Context, manageURL, accessToken string) (openpayments.TokenResponse, error)
}

// Pending is a grant awaiting user consent.
type Pending struct {
	ContinueURI   string `json:"continueUri"`
	ContinueToken string `json:"continueAccessToken"`
	RedirectURL   string `json:"interactRedirectUrl"`
	// ClientNonce and FinishNonce are needed to verify the consent callback hash.
	ClientNonce string `json:"clientNonce"`
	FinishNonce string `json:"finishNonce"`
	AuthServer  string `json:"authServer"`
	FinishURI   string `json:"finishUri,omitempty"`
}

// Finalized is a grant that carries a usable access token.
type Finalized struct {
	AccessToken string                    `json:"accessToken"`
	ManageURL   string                    `json:"manageUrl"`
	ExpiresIn   int64                     `json:"expiresIn,omitempty"`
	Access      []openpayments.AccessItem `json:"access,omitempty"`
}

// Grant holds exactly one of Pending and Finalized.
type Grant struct {
	Pending   *Pending
	Finalized *Finalized
}

// Options configures a grant request.
type Options struct {
	Interactive bool
	// FinishURI overrides the configured consent callback for this grant.
	FinishURI     string
	CorrelationID string
	UserID        string
	GroupID       string
	QuoteID       string
}

// Config configures a Negotiator.
type Config struct {
	ClientWallet string
	FinishURI    string
}

// Negotiator drives the request, continue and rotate steps of a grant.
type Negotiator struct {
	client AuthServer
	cfg    Config
	logger *slog.Logger
}

// NewNegotiator builds a grant negotiator.
func NewNegotiator(client AuthServer, cfg Config, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = logging.Discard()
	}
	cfg.ClientWallet = openpayments.NormalizeWalletURL(cfg.ClientWallet)
	return &Negotiator{client: client, cfg: cfg, logger: logger}
}

// Request asks wallet's authorization server for a grant covering access.
func (n *Negotiator) Request(ctx context.Context, wallet openpayments.WalletAddress, access AccessRequest, opts Options) (Grant, error) {
	if access == nil {
		return Grant{}, fmt.Errorf("%w: access request is required", ErrInvalidAccess)
	}
	req := openpayments.GrantRequest{
		AccessToken: openpayments.AccessTokenRequest{Access: []openpayments.AccessItem{Item(access)}},
		Client:      n.cfg.ClientWallet,
	}

	// The client nonce travels only inside the finish block. Without a finish
	// URI the server never sees a nonce and no callback hash can be checked.
	var clientNonce, finishURI string
	if opts.Interactive {
		finishURI = n.finishURI(opts)
		req.Interact = &openpayments.InteractRequest{Start: []string{"redirect"}}
		if finishURI != "" {
			clientNonce = uuid.NewString()
			req.Interact.Finish = &openpayments.InteractFinish{Method: "redirect", URI: finishURI, Nonce: clientNonce}
		}
	}

	metrics.GrantsRequested.WithLabelValues(string(access.Kind()), strconv.FormatBool(opts.Interactive)).Inc()
	resp, err := n.client.RequestGrant(ctx, wallet.AuthServer, req)
	if err != nil {
		n.logger.Warn("grant.request failed", "kind", access.Kind(), "wallet", wallet.ID, "error", err)
		return Grant{}, fmt.Errorf("request %s grant: %w", access.Kind(), err)
	}

	if !opts.Interactive {
		if resp.IsPending() || !resp.IsFinalized() {
			return Grant{}, fmt.Errorf("%w: %s grant on %s", ErrUnexpectedInteraction, access.Kind(), wallet.AuthServer)
		}
		n.logger.Debug("grant.request", "kind", access.Kind(), "wallet", wallet.ID, "interactive", false)
		return Grant{Finalized: finalizedFrom(resp.AccessToken)}, nil
	}

	if !resp.IsPending() || resp.Continue == nil {
		if resp.IsFinalized() {
			return Grant{Finalized: finalizedFrom(resp.AccessToken)}, nil
		}
		return Grant{}, fmt.Errorf("request %s grant: response has neither interaction nor token", access.Kind())
	}

	n.logger.Info("grant.request", "kind", access.Kind(), "wallet", wallet.ID, "interactive", true, "correlation_id", opts.CorrelationID)
	return Grant{Pending: &Pending{
		ContinueURI:   resp.Continue.URI,
		ContinueToken: resp.Continue.AccessToken.Value,
		RedirectURL:   resp.Interact.Redirect,
		ClientNonce:   clientNonce,
		FinishNonce:   resp.Interact.Finish,
		AuthServer:    wallet.AuthServer,
		FinishURI:     finishURI,
	}}, nil
}

// Continue exchanges a completed interaction for a usable token.
func (n *Negotiator) Continue(ctx context.Context, continueURI, continueToken, interactRef string) (Finalized, error) {
	resp, err := n.client.ContinueGrant(ctx, continueURI, continueToken, interactRef)
	if err != nil {
		metrics.GrantsContinued.WithLabelValues("failed").Inc()
		if openpayments.IsUnauthorized(err) {
			return Finalized{}, fmt.Errorf("%w: %v", ErrNotAccepted, err)
		}
		return Finalized{}, fmt.Errorf("continue grant: %w", err)
	}
	if !resp.IsFinalized() {
		metrics.GrantsContinued.WithLabelValues("failed").Inc()
		return Finalized{}, fmt.Errorf("%w: no access token issued", ErrNotAccepted)
	}
	metrics.GrantsContinued.WithLabelValues("success").Inc()
	n.logger.Info("grant.continue", "continue_uri", continueURI)
	return *finalizedFrom(resp.AccessToken), nil
}

// Rotate exchanges the current access token for a new one bound to the same
// grant. The previous token is invalid afterwards.
func (n *Negotiator) Rotate(ctx context.Context, manageURL, previousToken string) (Finalized, error) {
	resp, err := n.client.RotateToken(ctx, manageURL, previousToken)
	if err != nil {
		metrics.TokenRotations.WithLabelValues("failed").Inc()
		n.logger.Warn("token.rotate failed", "manage_url", manageURL, "error", err)
		return Finalized{}, fmt.Errorf("%w: %v", ErrRotationFailed, err)
	}
	if resp.AccessToken == nil || resp.AccessToken.Value == "" {
		metrics.TokenRotations.WithLabelValues("failed").Inc()
		return Finalized{}, fmt.Errorf("%w: no access token returned", ErrRotationFailed)
	}
	metrics.TokenRotations.WithLabelValues("success").Inc()
	out := finalizedFrom(resp.AccessToken)
	if out.ManageURL == "" {
		out.ManageURL = manageURL
	}
	n.logger.Info("token.rotate", "manage_url", out.ManageURL)
	return *out, nil
}

func (n *Negotiator) finishURI(opts Options) string {
	base := opts.FinishURI
	if base == "" {
		base = n.cfg.FinishURI
	}
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for key, value := range map[string]string{
		"correlation_id": opts.CorrelationID,
		"user_id":        opts.UserID,
		"group_id":       opts.GroupID,
		"quote_id":       opts.QuoteID,
	} {
		if strings.TrimSpace(value) != "" {
			q.Set(key, value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func finalizedFrom(t *openpayments.AccessToken) *Finalized {
	return &Finalized{AccessToken: t.Value, ManageURL: t.Manage, ExpiresIn: t.ExpiresIn, Access: t.Access}
}

// OutgoingAccess returns the outgoing-payment entry of a token's access, if any.
func (f Finalized) OutgoingAccess() (openpayments.AccessItem, bool) {
	for _, item := range f.Access {
		if item.Type == string(KindOutgoingPayment) {
			return item, true
		}
	}
	return openpayments.AccessItem{}, false
}
