package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDisputeNotFound signals the dispute does not exist.
	ErrDisputeNotFound = errors.New("ledger: dispute not found")
	// ErrNotAParty signals the account never joined the dispute.
	ErrNotAParty = errors.New("ledger: account is not a party to dispute")
	// ErrAlreadySubmitted signals the party's truth was already recorded.
	ErrAlreadySubmitted = errors.New("ledger: party already submitted")
	// ErrNoResolution signals the dispute has no verdict yet.
	ErrNoResolution = errors.New("ledger: no resolution for dispute")
	// ErrResolutionExists signals a verdict was already persisted for the
	// dispute; the unique index on resolutions.dispute_id raised it.
	ErrResolutionExists = errors.New("ledger: resolution already exists")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository persists disputes, parties, and resolutions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateDispute inserts an open dispute and its creator party in one
// transaction, so a dispute is never observable without at least one party.
func (r *Repository) CreateDispute(ctx context.Context, creatorAccountID string) (Dispute, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("ledger: begin create dispute: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertDisputeSQL = `
		INSERT INTO disputes (creator_account_id)
		VALUES ($1)
		RETURNING id, creator_account_id, status::text, created_at, resolved_at
	`

	var d Dispute
	if err := tx.QueryRow(ctx, insertDisputeSQL, creatorAccountID).
		Scan(&d.ID, &d.CreatorAccountID, &d.Status, &d.CreatedAt, &d.ResolvedAt); err != nil {
		return Dispute{}, fmt.Errorf("ledger: insert dispute: %w", err)
	}

	const insertPartySQL = `INSERT INTO parties (dispute_id, account_id) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, insertPartySQL, d.ID, creatorAccountID); err != nil {
		return Dispute{}, fmt.Errorf("ledger: insert creator party: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("ledger: commit create dispute: %w", err)
	}
	return d, nil
}

// GetDispute fetches a dispute by id.
func (r *Repository) GetDispute(ctx context.Context, disputeID string) (Dispute, error) {
	const selectSQL = `
		SELECT id, creator_account_id, status::text, created_at, resolved_at
		FROM disputes
		WHERE id = $1
	`

	var d Dispute
	err := r.pool.QueryRow(ctx, selectSQL, disputeID).
		Scan(&d.ID, &d.CreatorAccountID, &d.Status, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrDisputeNotFound
		}
		return Dispute{}, fmt.Errorf("ledger: get dispute: %w", err)
	}
	return d, nil
}

// JoinDispute records the account as a party, idempotently: a second join for
// the same (dispute, account) pair returns the existing row unchanged. The
// unique constraint absorbs concurrent joins.
func (r *Repository) JoinDispute(ctx context.Context, disputeID, accountID string) (Party, error) {
	const insertSQL = `
		INSERT INTO parties (dispute_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT (dispute_id, account_id) DO NOTHING
		RETURNING seq, dispute_id, account_id, submitted, truth, joined_at
	`

	party, err := scanParty(r.pool.QueryRow(ctx, insertSQL, disputeID, accountID))
	if err == nil {
		return party, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return Party{}, ErrDisputeNotFound
		}
		return Party{}, fmt.Errorf("ledger: join dispute: %w", err)
	}

	// Conflict path: the party already exists, return it unchanged.
	return r.GetParty(ctx, disputeID, accountID)
}

// GetParty fetches the participation record for (dispute, account).
func (r *Repository) GetParty(ctx context.Context, disputeID, accountID string) (Party, error) {
	const selectSQL = `
		SELECT seq, dispute_id, account_id, submitted, truth, joined_at
		FROM parties
		WHERE dispute_id = $1 AND account_id = $2
	`

	party, err := scanParty(r.pool.QueryRow(ctx, selectSQL, disputeID, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrNotAParty
		}
		return Party{}, fmt.Errorf("ledger: get party: %w", err)
	}
	return party, nil
}

// ListParties returns the display projection of all parties in join order.
func (r *Repository) ListParties(ctx context.Context, disputeID string) ([]PartyView, error) {
	const selectSQL = `
		SELECT a.phone, p.submitted
		FROM parties p
		JOIN accounts a ON a.id = p.account_id
		WHERE p.dispute_id = $1
		ORDER BY p.seq
	`

	rows, err := r.pool.Query(ctx, selectSQL, disputeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list parties: %w", err)
	}
	defer rows.Close()

	out := make([]PartyView, 0, 4)
	for rows.Next() {
		var view PartyView
		if err := rows.Scan(&view.Phone, &view.Submitted); err != nil {
			return nil, fmt.Errorf("ledger: scan party view: %w", err)
		}
		out = append(out, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate parties: %w", err)
	}
	return out, nil
}

// RecordSubmission sets submitted and truth for the party in a single
// conditional write. Submission is monotonic: a row that already submitted is
// never overwritten.
func (r *Repository) RecordSubmission(ctx context.Context, disputeID, accountID, truth string) (Party, error) {
	const updateSQL = `
		UPDATE parties
		SET submitted = TRUE, truth = $3
		WHERE dispute_id = $1 AND account_id = $2 AND submitted = FALSE
		RETURNING seq, dispute_id, account_id, submitted, truth, joined_at
	`

	party, err := scanParty(r.pool.QueryRow(ctx, updateSQL, disputeID, accountID, truth))
	if err == nil {
		return party, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Party{}, fmt.Errorf("ledger: record submission: %w", err)
	}

	// Distinguish "never joined" from "already submitted".
	if _, err := r.GetParty(ctx, disputeID, accountID); err != nil {
		return Party{}, err
	}
	return Party{}, ErrAlreadySubmitted
}

// GetResolution fetches the verdict for a dispute, if one exists.
func (r *Repository) GetResolution(ctx context.Context, disputeID string) (Resolution, error) {
	const selectSQL = `
		SELECT id, dispute_id, verdict, created_at
		FROM resolutions
		WHERE dispute_id = $1
	`

	var res Resolution
	err := r.pool.QueryRow(ctx, selectSQL, disputeID).
		Scan(&res.ID, &res.DisputeID, &res.Verdict, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolution{}, ErrNoResolution
		}
		return Resolution{}, fmt.Errorf("ledger: get resolution: %w", err)
	}
	return res, nil
}

// LockDispute loads the dispute row under FOR UPDATE inside the caller's
// transaction. The lock scope is the single dispute row, so slow arbitration
// for one dispute never blocks unrelated disputes.
func (r *Repository) LockDispute(ctx context.Context, tx pgx.Tx, disputeID string) (Dispute, error) {
	const lockSQL = `
		SELECT id, creator_account_id, status::text, created_at, resolved_at
		FROM disputes
		WHERE id = $1
		FOR UPDATE
	`

	var d Dispute
	err := tx.QueryRow(ctx, lockSQL, disputeID).
		Scan(&d.ID, &d.CreatorAccountID, &d.Status, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrDisputeNotFound
		}
		return Dispute{}, fmt.Errorf("ledger: lock dispute: %w", err)
	}
	return d, nil
}

// SubmissionCounts computes the quorum snapshot inside the caller's
// transaction.
func (r *Repository) SubmissionCounts(ctx context.Context, tx pgx.Tx, disputeID string) (SubmissionCounts, error) {
	const countSQL = `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE submitted)
		FROM parties
		WHERE dispute_id = $1
	`

	var counts SubmissionCounts
	if err := tx.QueryRow(ctx, countSQL, disputeID).Scan(&counts.Total, &counts.Submitted); err != nil {
		return SubmissionCounts{}, fmt.Errorf("ledger: submission counts: %w", err)
	}
	return counts, nil
}

// PartyStatements returns every party's truth text in join order. Parties
// that have not submitted contribute empty text, preserving positional
// identity for the arbitration request.
func (r *Repository) PartyStatements(ctx context.Context, tx pgx.Tx, disputeID string) ([]string, error) {
	const selectSQL = `
		SELECT COALESCE(truth, '')
		FROM parties
		WHERE dispute_id = $1
		ORDER BY seq
	`

	rows, err := tx.Query(ctx, selectSQL, disputeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: party statements: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 4)
	for rows.Next() {
		var truth string
		if err := rows.Scan(&truth); err != nil {
			return nil, fmt.Errorf("ledger: scan statement: %w", err)
		}
		out = append(out, truth)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate statements: %w", err)
	}
	return out, nil
}

// InsertResolution persists the verdict and flips the dispute to resolved in
// the caller's transaction, keeping "resolution exists" and "status resolved"
// equivalent at all times.
func (r *Repository) InsertResolution(ctx context.Context, tx pgx.Tx, disputeID, verdict string) (Resolution, error) {
	const insertSQL = `
		INSERT INTO resolutions (dispute_id, verdict)
		VALUES ($1, $2)
		RETURNING id, dispute_id, verdict, created_at
	`

	var res Resolution
	err := tx.QueryRow(ctx, insertSQL, disputeID, verdict).
		Scan(&res.ID, &res.DisputeID, &res.Verdict, &res.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Resolution{}, ErrResolutionExists
		}
		return Resolution{}, fmt.Errorf("ledger: insert resolution: %w", err)
	}

	const resolveSQL = `
		UPDATE disputes
		SET status = 'resolved', resolved_at = now()
		WHERE id = $1 AND status <> 'resolved'
	`
	if _, err := tx.Exec(ctx, resolveSQL, disputeID); err != nil {
		return Resolution{}, fmt.Errorf("ledger: mark dispute resolved: %w", err)
	}

	return res, nil
}

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	err := row.Scan(&p.Seq, &p.DisputeID, &p.AccountID, &p.Submitted, &p.Truth, &p.JoinedAt)
	if err != nil {
		return Party{}, err
	}
	return p, nil
}
