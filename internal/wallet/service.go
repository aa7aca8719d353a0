package wallet

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "net/url"
    "strings"

    "github.com/stokvel-pay/stokvel_pay/internal/logging"
    "github.com/stokvel-pay/stokvel_pay/internal/openpayments"
)

// ErrResolution indicates a wallet identifier could not be turned into wallet metadata.
var ErrResolution = errors.New("wallet address resolution failed")

// Directory fetches wallet metadata by URL.
type Directory interface {
    GetWalletAddress(ctx context.Context, walletURL string) (openpayments.WalletAddress, error)
}

// Resolver turns opaque wallet identifiers into wallet metadata. Every call
// goes to the directory; nothing is cached.
type Resolver struct {
    directory Directory
    logger    *slog.Logger
}

// NewResolver builds a wallet resolver.
func NewResolver(directory Directory, logger *slog.Logger) *Resolver {
    if logger == nil {
        logger = logging.Discard()
    }
    return &Resolver{directory: directory, logger: logger}
}

// Canonical normalizes the "$" shorthand and checks the identifier is an absolute URL.
func Canonical(identifier string) (string, error) {
    id := openpayments.NormalizeWalletURL(identifier)
    if id == "" {
        return "", fmt.Errorf("%w: empty wallet identifier", ErrResolution)
    }
    u, err := url.Parse(id)
    if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
        return "", fmt.Errorf("%w: %q is not a wallet address url", ErrResolution, identifier)
    }
    return strings.TrimRight(id, "/"), nil
}

// Resolve fetches wallet metadata for identifier with a single attempt.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (openpayments.WalletAddress, error) {
    id, err := Canonical(identifier)
    if err != nil {
        return openpayments.WalletAddress{}, err
    }

    w, err := r.directory.GetWalletAddress(ctx, id)
    if err != nil {
        r.logger.Warn("wallet.resolve failed", "wallet", id, "error", err)
        return openpayments.WalletAddress{}, fmt.Errorf("%w: %s: %v", ErrResolution, id, err)
    }
    if w.AuthServer == "" || w.AssetCode == "" {
        return openpayments.WalletAddress{}, fmt.Errorf("%w: %s: incomplete wallet metadata", ErrResolution, id)
    }
    if w.ID == "" {
        w.ID = id
    }

    r.logger.Debug("wallet.resolve", "wallet", w.ID, "asset_code", w.AssetCode, "asset_scale", w.AssetScale)
    return w, nil
}
