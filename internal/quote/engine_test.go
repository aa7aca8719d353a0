package quote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokvel-pay/stokvel_pay/internal/grant"
	"github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

func setup(t *testing.T) (*Engine, *openpayments.Network, openpayments.WalletAddress, string) {
	t.Helper()
	ctx := context.Background()
	network := openpayments.NewInMemory()
	payer := network.AddWallet("https://ilp.example/alice", "ZAR", 2)
	receiver := network.AddWallet("https://ilp.example/bob", "ZAR", 2)
	negotiator := grant.NewNegotiator(network, grant.Config{ClientWallet: "https://ilp.example/app"}, nil)

	g, err := negotiator.Request(ctx, receiver, grant.IncomingPaymentAccess{}, grant.Options{})
	require.NoError(t, err)
	ip, err := network.CreateIncomingPayment(ctx, receiver.ResourceURL(), g.Finalized.AccessToken, openpayments.IncomingPaymentRequest{
		WalletAddress:  receiver.ID,
		IncomingAmount: &openpayments.Amount{Value: "1000", AssetCode: "ZAR", AssetScale: 2},
	})
	require.NoError(t, err)

	return NewEngine(negotiator, network, nil), network, payer, ip.ID
}

func TestQuoteBindsAmounts(t *testing.T) {
	engine, network, payer, incoming := setup(t)
	network.SetRate("ZAR", "ZAR", "1.02")

	q, err := engine.Quote(context.Background(), payer, incoming)
	require.NoError(t, err)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, "1000", q.ReceiveAmount.Value)
	assert.Equal(t, "1020", q.DebitAmount.Value)
	assert.Equal(t, payer.ID, q.WalletAddress)

	reqs := network.GrantRequests()
	last := reqs[len(reqs)-1]
	assert.Nil(t, last.Interact)
	assert.Equal(t, "quote", last.AccessToken.Access[0].Type)
}

func TestQuoteFailureIsWrapped(t *testing.T) {
	engine, network, payer, incoming := setup(t)
	network.FailQuotes(true)
	before := len(network.GrantRequests())

	_, err := engine.Quote(context.Background(), payer, incoming)
	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.Equal(t, before+1, len(network.GrantRequests()), "no retry after a failed quote")
}

func TestQuoteGrantFailureIsWrapped(t *testing.T) {
	engine, network, payer, incoming := setup(t)
	network.RequireInteraction(true)

	_, err := engine.Quote(context.Background(), payer, incoming)
	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.ErrorIs(t, err, grant.ErrUnexpectedInteraction)
}
