package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS recurring_authorizations (
    id               UUID PRIMARY KEY,
    user_id          TEXT NOT NULL DEFAULT '',
    group_id         TEXT NOT NULL DEFAULT '',
    variant          TEXT NOT NULL,
    sender_wallet    TEXT NOT NULL,
    receiver_wallet  TEXT NOT NULL,
    quote_id         TEXT NOT NULL,
    incoming_payment TEXT NOT NULL DEFAULT '',
    continue_uri     TEXT NOT NULL,
    continue_token   TEXT NOT NULL,
    client_nonce     TEXT NOT NULL DEFAULT '',
    finish_nonce     TEXT NOT NULL DEFAULT '',
    auth_server      TEXT NOT NULL DEFAULT '',
    redirect_url     TEXT NOT NULL DEFAULT '',
    manage_url       TEXT NOT NULL DEFAULT '',
    access_token     TEXT NOT NULL DEFAULT '',
    interval         TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_cycles (
    id               UUID PRIMARY KEY,
    authorization_id UUID NOT NULL REFERENCES recurring_authorizations (id),
    outgoing_payment TEXT NOT NULL DEFAULT '',
    quote_id         TEXT NOT NULL DEFAULT '',
    value            TEXT NOT NULL DEFAULT '',
    failed           BOOLEAN NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS payment_cycles_authorization_idx ON payment_cycles (authorization_id, created_at);
`

// PostgresRepository stores authorizations in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the tables when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// Create inserts an authorization record.
func (r *PostgresRepository) Create(ctx context.Context, a Authorization) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO recurring_authorizations (id, user_id, group_id, variant, sender_wallet,
        receiver_wallet, quote_id, incoming_payment, continue_uri, continue_token, client_nonce, finish_nonce,
        auth_server, redirect_url, manage_url, access_token, interval, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		id, a.UserID, a.GroupID, a.Variant, a.SenderWallet, a.ReceiverWallet, a.QuoteID, a.IncomingPayment,
		a.ContinueURI, a.ContinueToken, a.ClientNonce, a.FinishNonce, a.AuthServer, a.RedirectURL,
		a.ManageURL, a.AccessToken, a.Interval, string(a.Status), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return err
}

// Get fetches an authorization by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Authorization, error) {
	authID, err := uuid.Parse(id)
	if err != nil {
		return Authorization{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, user_id, group_id, variant, sender_wallet, receiver_wallet, quote_id,
        incoming_payment, continue_uri, continue_token, client_nonce, finish_nonce, auth_server, redirect_url,
        manage_url, access_token, interval, status, created_at, updated_at
        FROM recurring_authorizations WHERE id = $1`, authID)

	var (
		a         Authorization
		idVal     uuid.UUID
		status    string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&idVal, &a.UserID, &a.GroupID, &a.Variant, &a.SenderWallet, &a.ReceiverWallet, &a.QuoteID,
		&a.IncomingPayment, &a.ContinueURI, &a.ContinueToken, &a.ClientNonce, &a.FinishNonce, &a.AuthServer,
		&a.RedirectURL, &a.ManageURL, &a.AccessToken, &a.Interval, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Authorization{}, ErrNotFound
		}
		return Authorization{}, err
	}
	a.ID = idVal.String()
	a.Status = Status(status)
	a.CreatedAt = createdAt.UTC()
	a.UpdatedAt = updatedAt.UTC()
	return a, nil
}

// SaveTokens replaces the stored manage URL and access token, and the status when given.
func (r *PostgresRepository) SaveTokens(ctx context.Context, id, manageURL, accessToken string, status Status) error {
	authID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE recurring_authorizations
        SET manage_url = $1, access_token = $2, status = COALESCE(NULLIF($3, ''), status), updated_at = $4
        WHERE id = $5`, manageURL, accessToken, string(status), time.Now().UTC(), authID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCycle appends a cycle outcome.
func (r *PostgresRepository) RecordCycle(ctx context.Context, c Cycle) error {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return err
	}
	authID, err := uuid.Parse(c.AuthorizationID)
	if err != nil {
		return ErrNotFound
	}
	_, err = r.db.Exec(ctx, `INSERT INTO payment_cycles (id, authorization_id, outgoing_payment, quote_id, value, failed, error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, authID, c.OutgoingPayment, c.QuoteID, c.Value, c.Failed, c.Error, c.CreatedAt.UTC())
	return err
}

// Cycles lists the cycles of an authorization, oldest first.
func (r *PostgresRepository) Cycles(ctx context.Context, authorizationID string) ([]Cycle, error) {
	authID, err := uuid.Parse(authorizationID)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT id, authorization_id, outgoing_payment, quote_id, value, failed, error, created_at
        FROM payment_cycles WHERE authorization_id = $1 ORDER BY created_at`, authID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var (
			c         Cycle
			id, aid   uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &aid, &c.OutgoingPayment, &c.QuoteID, &c.Value, &c.Failed, &c.Error, &createdAt); err != nil {
			return nil, err
		}
		c.ID = id.String()
		c.AuthorizationID = aid.String()
		c.CreatedAt = createdAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
