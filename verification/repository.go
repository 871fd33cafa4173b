package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoPendingCode signals no verification was started for the session.
var ErrNoPendingCode = errors.New("verification: no pending code for session")

// PendingCode is the per-session verification state. A session holds at most
// one pending code; starting verification again overwrites it.
type PendingCode struct {
	SessionID string
	Phone     string
	Code      int
}

// CodeRepository persists pending verification codes keyed by session.
type CodeRepository interface {
	Put(ctx context.Context, pending PendingCode) error
	Get(ctx context.Context, sessionID string) (PendingCode, error)
}

// PGCodeRepository implements CodeRepository backed by PostgreSQL.
type PGCodeRepository struct {
	pool *pgxpool.Pool
}

// NewCodeRepository creates a PostgreSQL-backed code repository.
func NewCodeRepository(pool *pgxpool.Pool) *PGCodeRepository {
	return &PGCodeRepository{pool: pool}
}

// Put stores the pending code for the session, replacing any previous one.
func (r *PGCodeRepository) Put(ctx context.Context, pending PendingCode) error {
	const upsertSQL = `
		INSERT INTO phone_verifications (session_id, phone, code, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id) DO UPDATE
		SET phone = EXCLUDED.phone, code = EXCLUDED.code, updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, upsertSQL, pending.SessionID, pending.Phone, pending.Code); err != nil {
		return fmt.Errorf("verification: store code: %w", err)
	}
	return nil
}

// Get returns the pending code for the session. Codes never expire; the row
// lives until overwritten by a later Put for the same session.
func (r *PGCodeRepository) Get(ctx context.Context, sessionID string) (PendingCode, error) {
	const selectSQL = `
		SELECT session_id, phone, code
		FROM phone_verifications
		WHERE session_id = $1
	`

	var pending PendingCode
	err := r.pool.QueryRow(ctx, selectSQL, sessionID).Scan(&pending.SessionID, &pending.Phone, &pending.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingCode{}, ErrNoPendingCode
		}
		return PendingCode{}, fmt.Errorf("verification: load code: %w", err)
	}
	return pending, nil
}
