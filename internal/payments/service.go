package payments

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "strings"
    "time"

    "github.com/google/uuid"

    "github.com/stokvel-pay/stokvel_pay/internal/cycle"
    "github.com/stokvel-pay/stokvel_pay/internal/grant"
    "github.com/stokvel-pay/stokvel_pay/internal/logging"
    "github.com/stokvel-pay/stokvel_pay/internal/notification"
    "github.com/stokvel-pay/stokvel_pay/internal/openpayments"
    "github.com/stokvel-pay/stokvel_pay/internal/quote"
    "github.com/stokvel-pay/stokvel_pay/internal/recurring"
    "github.com/stokvel-pay/stokvel_pay/internal/store"
    "github.com/stokvel-pay/stokvel_pay/internal/transfer"
    "github.com/stokvel-pay/stokvel_pay/internal/wallet"
)

var (
    // ErrNotPending indicates consent was already handled for the authorization.
    ErrNotPending = errors.New("authorization is not awaiting consent")
    // ErrNotActive indicates the authorization has no finalized grant to run cycles on.
    ErrNotActive = errors.New("authorization has no finalized grant")
)

// Authorizer sets up and finalizes recurring authorizations. Satisfied by *recurring.Manager.
type Authorizer interface {
    Setup(ctx context.Context, in recurring.SetupInput) (recurring.Authorization, error)
    FinalizeInitialPayment(ctx context.Context, in recurring.FinalizeInput) (recurring.InitialPayment, error)
}

// CycleRunner runs one payment cycle. Satisfied by *cycle.Runner.
type CycleRunner interface {
    Run(ctx context.Context, in cycle.Input) (cycle.Result, error)
}

// Config configures the service.
type Config struct {
    // PublicBaseURL is where the consent redirect returns; the authorization
    // id is appended as /api/v1/authorizations/{id}/consent.
    PublicBaseURL string
}

// Service persists recurring authorizations around the payment engine.
type Service struct {
    authorizer Authorizer
    cycles     CycleRunner
    repo       store.Repository
    notifier   notification.Notifier
    cfg        Config
    logger     *slog.Logger
    now        func() time.Time
}

// NewService constructs a payment service.
func NewService(authorizer Authorizer, cycles CycleRunner, repo store.Repository, notifier notification.Notifier, cfg Config, logger *slog.Logger) *Service {
    if logger == nil {
        logger = logging.Discard()
    }
    return &Service{
        authorizer: authorizer,
        cycles:     cycles,
        repo:       repo,
        notifier:   notifier,
        cfg:        cfg,
        logger:     logger,
        now:        time.Now,
    }
}

// EngineConfig configures the engine graph built by NewEngineService.
type EngineConfig struct {
    ClientWallet       string
    PublicBaseURL      string
    AggregationCeiling string
}

// NewEngineService wires the resolver, negotiator, quote engine, executor,
// manager and runner on top of client.
func NewEngineService(client openpayments.Client, repo store.Repository, notifier notification.Notifier, cfg EngineConfig, logger *slog.Logger) *Service {
    wallets := wallet.NewResolver(client, logger)
    negotiator := grant.NewNegotiator(client, grant.Config{ClientWallet: cfg.ClientWallet}, logger)
    quotes := quote.NewEngine(negotiator, client, logger)
    executor := transfer.NewExecutor(negotiator, client, logger)

    manager := recurring.NewManager(wallets, negotiator, quotes, executor, recurring.Config{AggregationCeiling: cfg.AggregationCeiling}, logger)
    runner := cycle.NewRunner(negotiator, wallets, quotes, executor, logger)
    return NewService(manager, runner, repo, notifier, Config{PublicBaseURL: cfg.PublicBaseURL}, logger)
}

// CreateInput captures a request for a new recurring authorization.
type CreateInput struct {
    Variant        recurring.Variant
    Value          string
    MaxValue       string
    SenderWallet   string
    ReceiverWallet string
    Schedule       recurring.Schedule
    UserID         string
    GroupID        string
}

// Created is a stored authorization and the setup aggregate that produced it.
type Created struct {
    Record store.Authorization
    Setup  recurring.Authorization
}

// Create sets up a recurring authorization and stores it as pending consent.
func (s *Service) Create(ctx context.Context, in CreateInput) (Created, error) {
    id := uuid.NewString()

    setup, err := s.authorizer.Setup(ctx, recurring.SetupInput{
        Variant:        in.Variant,
        Value:          in.Value,
        MaxValue:       in.MaxValue,
        SenderWallet:   in.SenderWallet,
        ReceiverWallet: in.ReceiverWallet,
        Schedule:       in.Schedule,
        UserID:         in.UserID,
        GroupID:        in.GroupID,
        CorrelationID:  id,
        FinishURI:      s.consentURI(id),
    })
    if err != nil {
        return Created{}, err
    }

    now := s.now().UTC()
    record := store.Authorization{
        ID:              id,
        UserID:          in.UserID,
        GroupID:         in.GroupID,
        Variant:         string(setup.Variant),
        SenderWallet:    setup.SenderWallet.ID,
        ReceiverWallet:  setup.ReceiverWallet.ID,
        QuoteID:         setup.QuoteID,
        IncomingPayment: setup.IncomingPayment,
        ContinueURI:     setup.Grant.ContinueURI,
        ContinueToken:   setup.Grant.ContinueToken,
        ClientNonce:     setup.Grant.ClientNonce,
        FinishNonce:     setup.Grant.FinishNonce,
        AuthServer:      setup.Grant.AuthServer,
        RedirectURL:     setup.Grant.RedirectURL,
        Interval:        setup.Schedule.Interval,
        Status:          store.StatusPending,
        CreatedAt:       now,
        UpdatedAt:       now,
    }
    if err := s.repo.Create(ctx, record); err != nil {
        return Created{}, fmt.Errorf("store authorization: %w", err)
    }
    return Created{Record: record, Setup: setup}, nil
}

// Consent handles the browser returning from the authorization server. The
// hash is checked against the stored nonces before the grant is continued.
func (s *Service) Consent(ctx context.Context, id, interactRef, hash string) (recurring.InitialPayment, error) {
    record, err := s.pending(ctx, id)
    if err != nil {
        return recurring.InitialPayment{}, err
    }
    p := grant.Pending{ClientNonce: record.ClientNonce, FinishNonce: record.FinishNonce, AuthServer: record.AuthServer}
    if err := grant.VerifyInteractionHash(p, interactRef, hash); err != nil {
        s.logger.Warn("authorization.consent hash mismatch", "authorization_id", id)
        return recurring.InitialPayment{}, err
    }
    return s.finalize(ctx, record, interactRef)
}

// Finalize continues the grant with interactRef without a callback hash, for
// callers that observed consent out of band.
func (s *Service) Finalize(ctx context.Context, id, interactRef string) (recurring.InitialPayment, error) {
    record, err := s.pending(ctx, id)
    if err != nil {
        return recurring.InitialPayment{}, err
    }
    return s.finalize(ctx, record, interactRef)
}

func (s *Service) pending(ctx context.Context, id string) (store.Authorization, error) {
    record, err := s.repo.Get(ctx, id)
    if err != nil {
        return store.Authorization{}, err
    }
    if record.Status != store.StatusPending {
        return store.Authorization{}, ErrNotPending
    }
    return record, nil
}

func (s *Service) finalize(ctx context.Context, record store.Authorization, interactRef string) (recurring.InitialPayment, error) {
    res, err := s.authorizer.FinalizeInitialPayment(ctx, recurring.FinalizeInput{
        SenderWallet:  record.SenderWallet,
        QuoteID:       record.QuoteID,
        ContinueURI:   record.ContinueURI,
        ContinueToken: record.ContinueToken,
        InteractRef:   interactRef,
    })
    if res.AccessToken == "" {
        if err == nil {
            err = fmt.Errorf("%w: no access token after continuation", grant.ErrNotAccepted)
        }
        return res, err
    }

    status := store.StatusActive
    if err != nil {
        status = store.StatusInitialPaymentFailed
    }
    if saveErr := s.repo.SaveTokens(ctx, record.ID, res.ManageURL, res.AccessToken, status); saveErr != nil {
        s.logger.Error("authorization.finalize persist failed", "authorization_id", record.ID, "error", saveErr)
        return res, fmt.Errorf("persist finalized grant: %w", saveErr)
    }

    entry := store.Cycle{
        ID:              uuid.NewString(),
        AuthorizationID: record.ID,
        QuoteID:         record.QuoteID,
        Failed:          err != nil,
        CreatedAt:       s.now().UTC(),
    }
    if op := res.OutgoingPayment; op != nil {
        entry.OutgoingPayment = op.ID
        if op.ReceiveAmount != nil {
            entry.Value = op.ReceiveAmount.Value
        }
    }
    if err != nil {
        entry.Error = err.Error()
    }
    s.recordCycle(ctx, entry)

    if err != nil {
        return res, err
    }
    s.notify(ctx, notification.Message{
        Kind:        notification.KindAuthorizationActivated,
        Destination: destination(record),
        Body:        fmt.Sprintf("recurring payment from %s to %s is active", record.SenderWallet, record.ReceiverWallet),
    })
    return res, nil
}

// RunCycle rotates the stored token, pays one cycle, and persists the rotated
// token before returning. value overrides the grant's receive limit.
func (s *Service) RunCycle(ctx context.Context, id, value string) (cycle.Result, error) {
    record, err := s.repo.Get(ctx, id)
    if err != nil {
        return cycle.Result{}, err
    }
    if record.ManageURL == "" || record.AccessToken == "" {
        return cycle.Result{}, ErrNotActive
    }

    res, runErr := s.cycles.Run(ctx, cycle.Input{
        ManageURL:      record.ManageURL,
        PreviousToken:  record.AccessToken,
        ReceiverWallet: record.ReceiverWallet,
        Value:          value,
    })
    if res.AccessToken != "" {
        manageURL := res.ManageURL
        if manageURL == "" {
            manageURL = record.ManageURL
        }
        if err := s.repo.SaveTokens(ctx, id, manageURL, res.AccessToken, ""); err != nil {
            s.logger.Error("cycle rotated token not persisted", "authorization_id", id, "error", err)
            return res, fmt.Errorf("persist rotated token: %w", err)
        }
    }
    if runErr != nil && res.AccessToken == "" {
        return res, runErr
    }

    entry := store.Cycle{
        ID:              uuid.NewString(),
        AuthorizationID: id,
        QuoteID:         res.QuoteID,
        Value:           value,
        Failed:          res.Failed || runErr != nil,
        CreatedAt:       s.now().UTC(),
    }
    if res.OutgoingPayment != nil {
        entry.OutgoingPayment = res.OutgoingPayment.ID
    }
    if entry.Value == "" && res.ReceiveAmount != nil {
        entry.Value = res.ReceiveAmount.Value
    }
    if runErr != nil {
        entry.Error = runErr.Error()
    }
    s.recordCycle(ctx, entry)

    kind := notification.KindCycleCompleted
    if entry.Failed {
        kind = notification.KindCycleFailed
    }
    s.notify(ctx, notification.Message{Kind: kind, Destination: destination(record), Body: cycle.Describe(res)})
    return res, runErr
}

// Get returns the stored authorization and its cycle history.
func (s *Service) Get(ctx context.Context, id string) (store.Authorization, []store.Cycle, error) {
    record, err := s.repo.Get(ctx, id)
    if err != nil {
        return store.Authorization{}, nil, err
    }
    cycles, err := s.repo.Cycles(ctx, id)
    if err != nil {
        return store.Authorization{}, nil, err
    }
    return record, cycles, nil
}

func (s *Service) consentURI(id string) string {
    base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
    if base == "" {
        return ""
    }
    return base + "/api/v1/authorizations/" + id + "/consent"
}

func (s *Service) recordCycle(ctx context.Context, entry store.Cycle) {
    if err := s.repo.RecordCycle(ctx, entry); err != nil {
        s.logger.Warn("cycle history not recorded", "authorization_id", entry.AuthorizationID, "error", err)
    }
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
    if s.notifier == nil {
        return
    }
    if err := s.notifier.Send(ctx, msg); err != nil {
        s.logger.Warn("notification failed", "kind", msg.Kind, "error", err)
    }
}

func destination(record store.Authorization) string {
    if record.GroupID != "" {
        return record.GroupID
    }
    if record.UserID != "" {
        return record.UserID
    }
    return record.SenderWallet
}
