package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAccountNotFound signals that no account exists for the given phone.
var ErrAccountNotFound = errors.New("identity: account not found")

// Store handles data access for phone-identified accounts.
type Store interface {
	FindOrCreateAccount(ctx context.Context, phone string) (Account, error)
	MarkVerified(ctx context.Context, phone string) (Account, error)
	FindVerifiedAccount(ctx context.Context, phone string) (Account, error)
}

// PGStore implements Store backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed identity store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// FindOrCreateAccount looks up an account by phone, creating an unverified one
// if absent. The unique index on phone makes repeated calls converge on the
// same row even under concurrent signups.
func (s *PGStore) FindOrCreateAccount(ctx context.Context, phone string) (Account, error) {
	if phone == "" {
		return Account{}, fmt.Errorf("identity: empty phone")
	}

	const upsertSQL = `
		INSERT INTO accounts (phone)
		VALUES ($1)
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id, phone, verified, created_at
	`

	acct, err := scanAccount(s.pool.QueryRow(ctx, upsertSQL, phone))
	if err != nil {
		return Account{}, fmt.Errorf("identity: find or create account: %w", err)
	}
	return acct, nil
}

// MarkVerified flips the verified flag to true. It is a no-op for accounts
// that are already verified; verified never transitions back to false.
func (s *PGStore) MarkVerified(ctx context.Context, phone string) (Account, error) {
	const updateSQL = `
		UPDATE accounts
		SET verified = TRUE
		WHERE phone = $1
		RETURNING id, phone, verified, created_at
	`

	acct, err := scanAccount(s.pool.QueryRow(ctx, updateSQL, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("identity: mark verified: %w", err)
	}
	return acct, nil
}

// FindVerifiedAccount retrieves an account by phone, restricted to accounts
// that completed verification. The login path uses this to decide whether a
// caller may receive a fresh code.
func (s *PGStore) FindVerifiedAccount(ctx context.Context, phone string) (Account, error) {
	const selectSQL = `
		SELECT id, phone, verified, created_at
		FROM accounts
		WHERE phone = $1 AND verified = TRUE
	`

	acct, err := scanAccount(s.pool.QueryRow(ctx, selectSQL, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("identity: find verified account: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	err := row.Scan(&acct.ID, &acct.Phone, &acct.Verified, &acct.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}
