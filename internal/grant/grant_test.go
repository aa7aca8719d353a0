package grant

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

const clientWallet = "https://ilp.example/stokvel-app"

func newNegotiator(t *testing.T) (*Negotiator, *openpayments.Network, openpayments.WalletAddress) {
	t.Helper()
	network := openpayments.NewInMemory()
	w := network.AddWallet("https://ilp.example/alice", "ZAR", 2)
	n := NewNegotiator(network, Config{ClientWallet: clientWallet, FinishURI: "https://api.example/consent"}, nil)
	return n, network, w
}

func TestBuildActionSets(t *testing.T) {
	tests := []struct {
		kind    Kind
		actions []string
	}{
		{KindIncomingPayment, []string{"read", "create", "complete"}},
		{KindOutgoingPayment, []string{"read", "create", "read-all", "list", "list-all"}},
		{KindQuote, []string{"read", "create", "read-all"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			req, err := Build(tt.kind, "https://ilp.example/alice", nil)
			require.NoError(t, err)
			item := Item(req)
			assert.Equal(t, string(tt.kind), item.Type)
			assert.Equal(t, tt.actions, item.Actions)
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	limits := &openpayments.Limits{
		DebitAmount: &openpayments.Amount{Value: "1000", AssetCode: "ZAR", AssetScale: 2},
		Interval:    "R12/2025-01-01T00:00:00.000Z/P1M",
	}
	a, err := Build(KindOutgoingPayment, "https://ilp.example/alice", limits)
	require.NoError(t, err)
	b, err := Build(KindOutgoingPayment, "https://ilp.example/alice", limits)
	require.NoError(t, err)
	assert.Equal(t, Item(a), Item(b))

	limits.DebitAmount.Value = "1"
	assert.Equal(t, "1000", Item(a).Limits.DebitAmount.Value, "descriptor must not alias caller limits")
}

func TestBuildRejectsInvalidKind(t *testing.T) {
	_, err := Build(Kind("wallet"), "", nil)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestBuildOutgoingNeedsIdentifier(t *testing.T) {
	_, err := Build(KindOutgoingPayment, "", nil)
	assert.ErrorIs(t, err, ErrInvalidAccess)
}

func TestNonInteractiveRequestIsFinalized(t *testing.T) {
	n, _, w := newNegotiator(t)
	g, err := n.Request(context.Background(), w, QuoteAccess{}, Options{})
	require.NoError(t, err)
	require.NotNil(t, g.Finalized)
	assert.Nil(t, g.Pending)
	assert.NotEmpty(t, g.Finalized.AccessToken)
}

func TestNonInteractiveRequestRejectsPending(t *testing.T) {
	n, network, w := newNegotiator(t)
	network.RequireInteraction(true)

	g, err := n.Request(context.Background(), w, IncomingPaymentAccess{}, Options{})
	assert.ErrorIs(t, err, ErrUnexpectedInteraction)
	assert.Nil(t, g.Pending)
	assert.Nil(t, g.Finalized)
}

func TestInteractiveRequestCarriesFinishURI(t *testing.T) {
	n, network, w := newNegotiator(t)
	access, err := Build(KindOutgoingPayment, w.ID, nil)
	require.NoError(t, err)

	g, err := n.Request(context.Background(), w, access, Options{Interactive: true, UserID: "u-1", GroupID: "g-1", QuoteID: "q-1"})
	require.NoError(t, err)
	require.NotNil(t, g.Pending)
	assert.NotEmpty(t, g.Pending.ContinueURI)
	assert.NotEmpty(t, g.Pending.ContinueToken)
	assert.NotEmpty(t, g.Pending.RedirectURL)

	reqs := network.GrantRequests()
	require.Len(t, reqs, 1)
	sent := reqs[0]
	assert.Equal(t, clientWallet, sent.Client)
	require.NotNil(t, sent.Interact)
	assert.Equal(t, []string{"redirect"}, sent.Interact.Start)
	require.NotNil(t, sent.Interact.Finish)
	assert.Equal(t, "redirect", sent.Interact.Finish.Method)
	assert.Equal(t, g.Pending.ClientNonce, sent.Interact.Finish.Nonce)

	finish, err := url.Parse(sent.Interact.Finish.URI)
	require.NoError(t, err)
	assert.Equal(t, "u-1", finish.Query().Get("user_id"))
	assert.Equal(t, "g-1", finish.Query().Get("group_id"))
	assert.Equal(t, "q-1", finish.Query().Get("quote_id"))
}

func TestInteractiveRequestsUseFreshNonces(t *testing.T) {
	n, _, w := newNegotiator(t)
	access, err := Build(KindOutgoingPayment, w.ID, nil)
	require.NoError(t, err)

	first, err := n.Request(context.Background(), w, access, Options{Interactive: true})
	require.NoError(t, err)
	second, err := n.Request(context.Background(), w, access, Options{Interactive: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.Pending.ClientNonce, second.Pending.ClientNonce)
}

func TestInteractiveRequestWithoutFinishURISendsNoNonce(t *testing.T) {
	network := openpayments.NewInMemory()
	w := network.AddWallet("https://ilp.example/alice", "ZAR", 2)
	n := NewNegotiator(network, Config{ClientWallet: clientWallet}, nil)
	access, err := Build(KindOutgoingPayment, w.ID, nil)
	require.NoError(t, err)

	g, err := n.Request(context.Background(), w, access, Options{Interactive: true})
	require.NoError(t, err)
	require.NotNil(t, g.Pending)
	assert.Empty(t, g.Pending.ClientNonce)
	assert.Empty(t, g.Pending.FinishURI)

	reqs := network.GrantRequests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Interact)
	assert.Nil(t, reqs[0].Interact.Finish)

	hash := InteractionHash("", g.Pending.FinishNonce, "ref", g.Pending.AuthServer)
	assert.ErrorIs(t, VerifyInteractionHash(*g.Pending, "ref", hash), ErrInteractionHashMismatch)
}

func TestContinueBeforeConsentIsNotAccepted(t *testing.T) {
	n, _, w := newNegotiator(t)
	access, err := Build(KindOutgoingPayment, w.ID, nil)
	require.NoError(t, err)
	g, err := n.Request(context.Background(), w, access, Options{Interactive: true})
	require.NoError(t, err)

	_, err = n.Continue(context.Background(), g.Pending.ContinueURI, g.Pending.ContinueToken, "")
	assert.ErrorIs(t, err, ErrNotAccepted)
}

func TestContinueAfterConsentAndReplay(t *testing.T) {
	n, network, w := newNegotiator(t)
	access, err := Build(KindOutgoingPayment, w.ID, nil)
	require.NoError(t, err)
	g, err := n.Request(context.Background(), w, access, Options{Interactive: true})
	require.NoError(t, err)

	ref, err := network.Approve(g.Pending.ContinueURI)
	require.NoError(t, err)

	final, err := n.Continue(context.Background(), g.Pending.ContinueURI, g.Pending.ContinueToken, ref)
	require.NoError(t, err)
	assert.NotEmpty(t, final.AccessToken)
	assert.NotEmpty(t, final.ManageURL)
	item, ok := final.OutgoingAccess()
	require.True(t, ok)
	assert.Equal(t, w.ID, item.Identifier)

	_, err = n.Continue(context.Background(), g.Pending.ContinueURI, g.Pending.ContinueToken, ref)
	assert.ErrorIs(t, err, ErrNotAccepted)
}

func TestRotateStaleTokenFails(t *testing.T) {
	n, _, w := newNegotiator(t)
	g, err := n.Request(context.Background(), w, QuoteAccess{}, Options{})
	require.NoError(t, err)

	rotated, err := n.Rotate(context.Background(), g.Finalized.ManageURL, g.Finalized.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, g.Finalized.AccessToken, rotated.AccessToken)

	_, err = n.Rotate(context.Background(), g.Finalized.ManageURL, g.Finalized.AccessToken)
	assert.ErrorIs(t, err, ErrRotationFailed)
}

func TestRotateWithoutTokenInResponseFails(t *testing.T) {
	n, network, w := newNegotiator(t)
	g, err := n.Request(context.Background(), w, QuoteAccess{}, Options{})
	require.NoError(t, err)
	network.DisableRotation(true)

	_, err = n.Rotate(context.Background(), g.Finalized.ManageURL, g.Finalized.AccessToken)
	assert.True(t, errors.Is(err, ErrRotationFailed))
}

func TestVerifyInteractionHash(t *testing.T) {
	p := Pending{ClientNonce: "c", FinishNonce: "f", AuthServer: "https://ilp.example/auth"}
	hash := InteractionHash("c", "f", "ref", "https://ilp.example/auth")

	assert.NoError(t, VerifyInteractionHash(p, "ref", hash))
	assert.ErrorIs(t, VerifyInteractionHash(p, "other", hash), ErrInteractionHashMismatch)
	assert.ErrorIs(t, VerifyInteractionHash(p, "ref", ""), ErrInteractionHashMismatch)
}
