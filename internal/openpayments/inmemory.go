package openpayments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memPending struct {
	continueURI   string
	continueToken string
	redirect      string
	finishNonce   string
	access        []AccessItem
	authServer    string
	interactRef   string
	approved      bool
	consumed      bool
}

type memToken struct {
	value  string
	manage string
	access []AccessItem
	active bool
}

// Network is an in-process Open Payments deployment: wallet directory,
// authorization server and resource server in one value. It implements Client
// and is safe for concurrent use.
type Network struct {
	mu sync.Mutex

	wallets  map[string]WalletAddress
	pending  map[string]*memPending
	tokens   map[string]*memToken
	manage   map[string]string
	incoming map[string]IncomingPayment
	quotes   map[string]Quote
	used     map[string]bool
	rates    map[string]decimal.Decimal
	outgoing []OutgoingPayment
	requests []GrantRequest

	failOutgoing    bool
	alwaysInteract  bool
	failQuotes      bool
	rotationEnabled bool
}

// NewInMemory creates an empty network.
func NewInMemory() *Network {
	return &Network{
		wallets:         make(map[string]WalletAddress),
		pending:         make(map[string]*memPending),
		tokens:          make(map[string]*memToken),
		manage:          make(map[string]string),
		incoming:        make(map[string]IncomingPayment),
		quotes:          make(map[string]Quote),
		used:            make(map[string]bool),
		rates:           make(map[string]decimal.Decimal),
		rotationEnabled: true,
	}
}

// AddWallet registers a wallet address. The auth and resource servers share
// the wallet's origin.
func (n *Network) AddWallet(id, assetCode string, assetScale uint8) WalletAddress {
	id = NormalizeWalletURL(id)
	origin := id
	if u, err := url.Parse(id); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	w := WalletAddress{
		ID:             id,
		PublicName:     strings.TrimPrefix(id, origin+"/"),
		AssetCode:      assetCode,
		AssetScale:     assetScale,
		AuthServer:     origin + "/auth",
		ResourceServer: origin,
	}
	n.mu.Lock()
	n.wallets[id] = w
	n.mu.Unlock()
	return w
}

// SetRate sets how many units of the payer asset one unit of the receiver
// asset costs. Unset pairs quote at 1.
func (n *Network) SetRate(payerAsset, receiverAsset, rate string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rates[payerAsset+"/"+receiverAsset] = decimal.RequireFromString(rate)
}

// FailOutgoingPayments makes every outgoing payment creation fail.
func (n *Network) FailOutgoingPayments(fail bool) {
	n.mu.Lock()
	n.failOutgoing = fail
	n.mu.Unlock()
}

// FailQuotes makes every quote creation fail.
func (n *Network) FailQuotes(fail bool) {
	n.mu.Lock()
	n.failQuotes = fail
	n.mu.Unlock()
}

// RequireInteraction makes the auth server answer every grant request with an
// interaction block, even when none was asked for.
func (n *Network) RequireInteraction(always bool) {
	n.mu.Lock()
	n.alwaysInteract = always
	n.mu.Unlock()
}

// DisableRotation makes rotation answer with an empty token body.
func (n *Network) DisableRotation(disabled bool) {
	n.mu.Lock()
	n.rotationEnabled = !disabled
	n.mu.Unlock()
}

// Approve simulates the resource owner accepting the pending grant behind
// continueURI and returns the interaction reference the redirect would carry.
func (n *Network) Approve(continueURI string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[continueURI]
	if !ok {
		return "", fmt.Errorf("openpayments: no pending grant at %s", continueURI)
	}
	if p.interactRef == "" {
		p.interactRef = uuid.NewString()
	}
	p.approved = true
	return p.interactRef, nil
}

// GrantRequests returns every grant request received, oldest first.
func (n *Network) GrantRequests() []GrantRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]GrantRequest, len(n.requests))
	copy(out, n.requests)
	return out
}

// OutgoingPayments returns every outgoing payment created, oldest first.
func (n *Network) OutgoingPayments() []OutgoingPayment {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]OutgoingPayment, len(n.outgoing))
	copy(out, n.outgoing)
	return out
}

// IncomingPayment returns a created incoming payment by id.
func (n *Network) IncomingPayment(id string) (IncomingPayment, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.incoming[id]
	return p, ok
}

func (n *Network) GetWalletAddress(_ context.Context, walletURL string) (WalletAddress, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.wallets[NormalizeWalletURL(walletURL)]
	if !ok {
		return WalletAddress{}, &ResponseError{Op: "wallet.get", Status: http.StatusNotFound, Body: "wallet address not found"}
	}
	return w, nil
}

func (n *Network) RequestGrant(_ context.Context, authServer string, req GrantRequest) (GrantResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)

	if len(req.AccessToken.Access) == 0 {
		return GrantResponse{}, &ResponseError{Op: "grant.request", Status: http.StatusBadRequest, Body: "access is required"}
	}

	if req.Interact == nil && !n.alwaysInteract {
		return GrantResponse{AccessToken: n.issueLocked(authServer, req.AccessToken.Access)}, nil
	}

	id := uuid.NewString()
	p := &memPending{
		continueURI:   strings.TrimRight(authServer, "/") + "/continue/" + id,
		continueToken: uuid.NewString(),
		redirect:      strings.TrimRight(authServer, "/") + "/interact/" + id,
		finishNonce:   uuid.NewString(),
		access:        req.AccessToken.Access,
		authServer:    authServer,
	}
	n.pending[p.continueURI] = p
	return GrantResponse{
		Interact: &InteractResponse{Redirect: p.redirect, Finish: p.finishNonce},
		Continue: &Continuation{AccessToken: ContinueToken{Value: p.continueToken}, URI: p.continueURI},
	}, nil
}

func (n *Network) ContinueGrant(_ context.Context, continueURI, continueToken, interactRef string) (GrantResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[continueURI]
	if !ok {
		return GrantResponse{}, &ResponseError{Op: "grant.continue", Status: http.StatusNotFound, Body: "unknown grant"}
	}
	if p.continueToken != continueToken {
		return GrantResponse{}, &ResponseError{Op: "grant.continue", Status: http.StatusUnauthorized, Body: "invalid continuation token"}
	}
	if !p.approved || p.consumed || p.interactRef != interactRef {
		return GrantResponse{}, &ResponseError{Op: "grant.continue", Status: http.StatusUnauthorized, Body: "grant not accepted"}
	}
	p.consumed = true
	return GrantResponse{AccessToken: n.issueLocked(p.authServer, p.access)}, nil
}

func (n *Network) RotateToken(_ context.Context, manageURL, accessToken string) (TokenResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	current, ok := n.manage[manageURL]
	if !ok || current != accessToken {
		return TokenResponse{}, &ResponseError{Op: "token.rotate", Status: http.StatusUnauthorized, Body: "invalid access token"}
	}
	if !n.rotationEnabled {
		return TokenResponse{}, nil
	}
	old := n.tokens[current]
	old.active = false
	next := &memToken{value: uuid.NewString(), manage: manageURL, access: old.access, active: true}
	n.tokens[next.value] = next
	n.manage[manageURL] = next.value
	return TokenResponse{AccessToken: next.public()}, nil
}

func (n *Network) CreateIncomingPayment(_ context.Context, resourceServer, accessToken string, req IncomingPaymentRequest) (IncomingPayment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.authorizeLocked("incoming_payment.create", accessToken, "incoming-payment", ""); err != nil {
		return IncomingPayment{}, err
	}
	w, ok := n.wallets[req.WalletAddress]
	if !ok {
		return IncomingPayment{}, &ResponseError{Op: "incoming_payment.create", Status: http.StatusNotFound, Body: "wallet address not found"}
	}
	p := IncomingPayment{
		ID:             strings.TrimRight(w.ResourceURL(), "/") + "/incoming-payments/" + uuid.NewString(),
		WalletAddress:  w.ID,
		IncomingAmount: req.IncomingAmount,
		ExpiresAt:      req.ExpiresAt,
	}
	n.incoming[p.ID] = p
	return p, nil
}

func (n *Network) CreateQuote(_ context.Context, resourceServer, accessToken string, req QuoteRequest) (Quote, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.authorizeLocked("quote.create", accessToken, "quote", ""); err != nil {
		return Quote{}, err
	}
	if n.failQuotes {
		return Quote{}, &ResponseError{Op: "quote.create", Status: http.StatusInternalServerError, Body: "quote service unavailable"}
	}
	payer, ok := n.wallets[req.WalletAddress]
	if !ok {
		return Quote{}, &ResponseError{Op: "quote.create", Status: http.StatusNotFound, Body: "wallet address not found"}
	}
	in, ok := n.incoming[req.Receiver]
	if !ok || in.IncomingAmount == nil {
		return Quote{}, &ResponseError{Op: "quote.create", Status: http.StatusBadRequest, Body: "unknown receiver"}
	}

	receive := *in.IncomingAmount
	rate, ok := n.rates[payer.AssetCode+"/"+receive.AssetCode]
	if !ok {
		rate = decimal.NewFromInt(1)
	}
	debitValue := decimal.RequireFromString(receive.Value).Mul(rate).Ceil()

	q := Quote{
		ID:            strings.TrimRight(payer.ResourceURL(), "/") + "/quotes/" + uuid.NewString(),
		WalletAddress: payer.ID,
		Receiver:      in.ID,
		DebitAmount:   Amount{Value: debitValue.String(), AssetCode: payer.AssetCode, AssetScale: payer.AssetScale},
		ReceiveAmount: receive,
		Method:        "ilp",
	}
	n.quotes[q.ID] = q
	return q, nil
}

func (n *Network) CreateOutgoingPayment(_ context.Context, resourceServer, accessToken string, req OutgoingPaymentRequest) (OutgoingPayment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.authorizeLocked("outgoing_payment.create", accessToken, "outgoing-payment", req.WalletAddress); err != nil {
		return OutgoingPayment{}, err
	}
	if n.failOutgoing {
		return OutgoingPayment{}, &ResponseError{Op: "outgoing_payment.create", Status: http.StatusInternalServerError, Body: "payment failed"}
	}
	q, ok := n.quotes[req.QuoteID]
	if !ok || q.WalletAddress != req.WalletAddress {
		return OutgoingPayment{}, &ResponseError{Op: "outgoing_payment.create", Status: http.StatusBadRequest, Body: "unknown quote"}
	}
	if n.used[q.ID] {
		return OutgoingPayment{}, &ResponseError{Op: "outgoing_payment.create", Status: http.StatusConflict, Body: "quote already used"}
	}
	n.used[q.ID] = true

	debit, receive := q.DebitAmount, q.ReceiveAmount
	p := OutgoingPayment{
		ID:            strings.TrimRight(q.WalletAddress, "/") + "/outgoing-payments/" + uuid.NewString(),
		WalletAddress: q.WalletAddress,
		QuoteID:       q.ID,
		Receiver:      q.Receiver,
		DebitAmount:   &debit,
		ReceiveAmount: &receive,
		SentAmount:    &debit,
	}
	n.outgoing = append(n.outgoing, p)
	return p, nil
}

func (n *Network) issueLocked(authServer string, access []AccessItem) *AccessToken {
	t := &memToken{
		value:  uuid.NewString(),
		manage: strings.TrimRight(authServer, "/") + "/token/" + uuid.NewString(),
		access: access,
		active: true,
	}
	n.tokens[t.value] = t
	n.manage[t.manage] = t.value
	return t.public()
}

func (n *Network) authorizeLocked(op, accessToken, accessType, identifier string) (*memToken, error) {
	t, ok := n.tokens[accessToken]
	if !ok || !t.active {
		return nil, &ResponseError{Op: op, Status: http.StatusUnauthorized, Body: "invalid access token"}
	}
	for _, item := range t.access {
		if item.Type != accessType {
			continue
		}
		if identifier == "" || item.Identifier == "" || item.Identifier == identifier {
			return t, nil
		}
	}
	return nil, &ResponseError{Op: op, Status: http.StatusForbidden, Body: "insufficient grant"}
}

func (t *memToken) public() *AccessToken {
	access := make([]AccessItem, len(t.access))
	copy(access, t.access)
	return &AccessToken{Value: t.value, Manage: t.manage, ExpiresIn: 600, Access: access}
}

var _ Client = (*Network)(nil)
