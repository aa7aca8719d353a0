package payments

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/stokvel-pay/stokvel_pay/internal/grant"
    "github.com/stokvel-pay/stokvel_pay/internal/notification"
    "github.com/stokvel-pay/stokvel_pay/internal/openpayments"
    "github.com/stokvel-pay/stokvel_pay/internal/recurring"
    "github.com/stokvel-pay/stokvel_pay/internal/store"
)

const (
    member = "https://ilp.example/thandi"
    pool   = "https://ilp.example/stokvel"
)

type testNotifier struct {
    mu   sync.Mutex
    sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    n.sent = append(n.sent, msg)
    return nil
}

func (n *testNotifier) last() notification.Message {
    n.mu.Lock()
    defer n.mu.Unlock()
    if len(n.sent) == 0 {
        return notification.Message{}
    }
    return n.sent[len(n.sent)-1]
}

type harness struct {
    network  *openpayments.Network
    repo     store.Repository
    notifier *testNotifier
    svc      *Service
}

func newHarness(t *testing.T) harness {
    t.Helper()
    network := openpayments.NewInMemory()
    network.AddWallet(member, "ZAR", 2)
    network.AddWallet(pool, "ZAR", 2)

    repo := store.NewMemoryRepository()
    notifier := &testNotifier{}
    svc := NewEngineService(network, repo, notifier, EngineConfig{
        ClientWallet:  "https://ilp.example/app",
        PublicBaseURL: "https://api.stokvel.example/",
    }, nil)
    return harness{network: network, repo: repo, notifier: notifier, svc: svc}
}

func (h harness) create(t *testing.T) Created {
    t.Helper()
    start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
    created, err := h.svc.Create(context.Background(), CreateInput{
        Variant:        recurring.VariantContribution,
        Value:          "1000",
        SenderWallet:   member,
        ReceiverWallet: pool,
        Schedule:       recurring.Schedule{PaymentPeriods: 12, StartAt: &start, NumberOfPeriods: 1, PeriodUnit: "M"},
        UserID:         "user-1",
        GroupID:        "group-1",
    })
    require.NoError(t, err)
    return created
}

func (h harness) activate(t *testing.T, id string) {
    t.Helper()
    record, err := h.repo.Get(context.Background(), id)
    require.NoError(t, err)
    ref, err := h.network.Approve(record.ContinueURI)
    require.NoError(t, err)
    _, err = h.svc.Finalize(context.Background(), id, ref)
    require.NoError(t, err)
}

func TestCreateStoresPendingAuthorization(t *testing.T) {
    h := newHarness(t)
    created := h.create(t)

    record, err := h.repo.Get(context.Background(), created.Record.ID)
    require.NoError(t, err)
    assert.Equal(t, store.StatusPending, record.Status)
    assert.Equal(t, "R12/2025-01-01T00:00:00.000Z/P1M", record.Interval)
    assert.NotEmpty(t, record.ContinueURI)
    assert.NotEmpty(t, record.ContinueToken)
    assert.NotEmpty(t, record.ClientNonce)
    assert.Equal(t, created.Setup.QuoteID, record.QuoteID)

    reqs := h.network.GrantRequests()
    last := reqs[len(reqs)-1]
    require.NotNil(t, last.Interact)
    require.NotNil(t, last.Interact.Finish)
    assert.Contains(t, last.Interact.Finish.URI, "https://api.stokvel.example/api/v1/authorizations/"+record.ID+"/consent")
    assert.Contains(t, last.Interact.Finish.URI, "correlation_id="+record.ID)
}

func TestConsentVerifiesHashAndActivates(t *testing.T) {
    h := newHarness(t)
    created := h.create(t)
    ctx := context.Background()

    ref, err := h.network.Approve(created.Record.ContinueURI)
    require.NoError(t, err)

    _, err = h.svc.Consent(ctx, created.Record.ID, ref, "bm90LXRoZS1oYXNo")
    require.ErrorIs(t, err, grant.ErrInteractionHashMismatch)

    hash := grant.InteractionHash(created.Record.ClientNonce, created.Record.FinishNonce, ref, created.Record.AuthServer)
    res, err := h.svc.Consent(ctx, created.Record.ID, ref, hash)
    require.NoError(t, err)
    require.NotNil(t, res.OutgoingPayment)

    record, err := h.repo.Get(ctx, created.Record.ID)
    require.NoError(t, err)
    assert.Equal(t, store.StatusActive, record.Status)
    assert.Equal(t, res.AccessToken, record.AccessToken)
    assert.Equal(t, res.ManageURL, record.ManageURL)
    assert.Equal(t, notification.KindAuthorizationActivated, h.notifier.last().Kind)

    _, err = h.svc.Consent(ctx, created.Record.ID, ref, hash)
    assert.ErrorIs(t, err, ErrNotPending)
}

func TestFinalizeBeforeConsentIsNotAccepted(t *testing.T) {
    h := newHarness(t)
    created := h.create(t)

    _, err := h.svc.Finalize(context.Background(), created.Record.ID, "made-up-ref")
    require.ErrorIs(t, err, grant.ErrNotAccepted)

    record, err := h.repo.Get(context.Background(), created.Record.ID)
    require.NoError(t, err)
    assert.Equal(t, store.StatusPending, record.Status)
}

func TestFinalizeKeepsTokenWhenInitialPaymentFails(t *testing.T) {
    h := newHarness(t)
    created := h.create(t)
    ref, err := h.network.Approve(created.Record.ContinueURI)
    require.NoError(t, err)

    h.network.FailOutgoingPayments(true)
    res, err := h.svc.Finalize(context.Background(), created.Record.ID, ref)
    require.Error(t, err)
    require.NotEmpty(t, res.AccessToken)

    record, err := h.repo.Get(context.Background(), created.Record.ID)
    require.NoError(t, err)
    assert.Equal(t, store.StatusInitialPaymentFailed, record.Status)
    assert.Equal(t, res.AccessToken, record.AccessToken)

    cycles, err := h.repo.Cycles(context.Background(), created.Record.ID)
    require.NoError(t, err)
    require.Len(t, cycles, 1)
    assert.True(t, cycles[0].Failed)
}

func TestRunCyclePersistsRotatedToken(t *testing.T) {
    h := newHarness(t)
    created := h.create(t)
    h.activate(t, created.Record.ID)
    ctx := context.Background()

    before, err := h.repo.Get(ctx, created.Record.ID)
    require.NoError(t, err)

    res, err := h.svc.RunCycle(ctx, created.Record.ID, "")
    require.NoError(t, err)
    assert.False(t, res.Failed)
    assert.Equal(t, member, res.Payer)
    require.NotNil(t, res.ReceiveAmount)
    assert.Equal(t, "1000", res.ReceiveAmount.Value)

    after, err := h.repo.Get(ctx, created.Record.ID)
    require.NoError(t, err)
    assert.NotEqual(t, before.AccessToken, after.AccessToken)
    assert.Equal(t, res.AccessToken, after.AccessToken)

    // The next cycle must start from the persisted token.
    _, err = h.svc.RunCycle(ctx, created.Record.ID, "900")
    require.NoError(t, err)

    cycles, err := h.repo.Cycles(ctx, created.Record.ID)
    require.NoError(t, err)
    require.Len(t, cycles, 3)
    assert.Equal(t, "900", cycles[2].Value)
    assert.Equal(t, notification.KindCycleCompleted, h.notifier.last().Kind)
}

func TestRunCycleFailureStillPersistsToken(t *testing.T) {
    h := newHarness(t)
    created := h.create(t)
    h.activate(t, created.Record.ID)
    ctx := context.Background()

    h.network.FailOutgoingPayments(true)
    res, err := h.svc.RunCycle(ctx, created.Record.ID, "")
    require.NoError(t, err)
    assert.True(t, res.Failed)

    after, err := h.repo.Get(ctx, created.Record.ID)
    require.NoError(t, err)
    assert.Equal(t, res.AccessToken, after.AccessToken)
    assert.Equal(t, notification.KindCycleFailed, h.notifier.last().Kind)

    h.network.FailOutgoingPayments(false)
    res, err = h.svc.RunCycle(ctx, created.Record.ID, "")
    require.NoError(t, err)
    assert.False(t, res.Failed)
}

func TestRunCycleRequiresFinalizedGrant(t *testing.T) {
    h := newHarness(t)
    created := h.create(t)

    _, err := h.svc.RunCycle(context.Background(), created.Record.ID, "")
    assert.ErrorIs(t, err, ErrNotActive)

    _, err = h.svc.RunCycle(context.Background(), "missing", "")
    assert.ErrorIs(t, err, store.ErrNotFound)
}
