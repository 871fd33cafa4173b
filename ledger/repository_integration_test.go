package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL
// and exercises the dispute ledger end to end, including the uniqueness
// backstop on resolutions.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "disputes") || !tableExists(ctx, t, pool, "parties") || !tableExists(ctx, t, pool, "resolutions") {
		t.Skip("database schema missing; apply migrations/ first")
	}

	repo := NewRepository(pool)

	var acctA, acctB string
	if err := pool.QueryRow(ctx, `INSERT INTO accounts (phone, verified) VALUES ($1, TRUE) RETURNING id`,
		fmt.Sprintf("+1555%010d", time.Now().UnixNano()%1e10)).Scan(&acctA); err != nil {
		t.Fatalf("seed account a: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO accounts (phone, verified) VALUES ($1, TRUE) RETURNING id`,
		fmt.Sprintf("+1666%010d", time.Now().UnixNano()%1e10)).Scan(&acctB); err != nil {
		t.Fatalf("seed account b: %v", err)
	}

	d, err := repo.CreateDispute(ctx, acctA)
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	if d.Status != StatusOpen {
		t.Fatalf("expected open dispute, got %s", d.Status)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM resolutions WHERE dispute_id = $1`, d.ID)
		_, _ = pool.Exec(ctx2, `DELETE FROM parties WHERE dispute_id = $1`, d.ID)
		_, _ = pool.Exec(ctx2, `DELETE FROM disputes WHERE id = $1`, d.ID)
		_, _ = pool.Exec(ctx2, `DELETE FROM accounts WHERE id IN ($1, $2)`, acctA, acctB)
	})

	parties, err := repo.ListParties(ctx, d.ID)
	if err != nil {
		t.Fatalf("list parties: %v", err)
	}
	if len(parties) != 1 {
		t.Fatalf("expected creator auto-join, got %d parties", len(parties))
	}

	first, err := repo.JoinDispute(ctx, d.ID, acctB)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := repo.JoinDispute(ctx, d.ID, acctB)
	if err != nil {
		t.Fatalf("repeat join: %v", err)
	}
	if first.Seq != second.Seq {
		t.Fatalf("join not idempotent: seq %d then %d", first.Seq, second.Seq)
	}

	if _, err := repo.JoinDispute(ctx, uuid.NewString(), acctA); !errors.Is(err, ErrDisputeNotFound) {
		t.Fatalf("expected ErrDisputeNotFound for unknown dispute, got %v", err)
	}

	if _, err := repo.RecordSubmission(ctx, d.ID, acctA, "A said X"); err != nil {
		t.Fatalf("record submission: %v", err)
	}
	if _, err := repo.RecordSubmission(ctx, d.ID, acctA, "A said something else"); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	party, err := repo.GetParty(ctx, d.ID, acctA)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if party.Truth == nil || *party.Truth != "A said X" {
		t.Fatalf("truth overwritten: %v", party.Truth)
	}

	if _, err := repo.RecordSubmission(ctx, d.ID, uuid.NewString(), "loud bystander"); !errors.Is(err, ErrNotAParty) {
		t.Fatalf("expected ErrNotAParty, got %v", err)
	}

	if _, err := repo.RecordSubmission(ctx, d.ID, acctB, "B said Y"); err != nil {
		t.Fatalf("record submission b: %v", err)
	}

	// Verdict path under the per-dispute lock.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := repo.LockDispute(ctx, tx, d.ID); err != nil {
		t.Fatalf("lock dispute: %v", err)
	}
	counts, err := repo.SubmissionCounts(ctx, tx, d.ID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Total != 2 || counts.Submitted != 2 || !counts.Quorum() {
		t.Fatalf("unexpected counts %+v", counts)
	}
	statements, err := repo.PartyStatements(ctx, tx, d.ID)
	if err != nil {
		t.Fatalf("statements: %v", err)
	}
	if len(statements) != 2 || statements[0] != "A said X" || statements[1] != "B said Y" {
		t.Fatalf("statements out of join order: %v", statements)
	}
	if _, err := repo.InsertResolution(ctx, tx, d.ID, "Split it."); err != nil {
		t.Fatalf("insert resolution: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, err := repo.GetResolution(ctx, d.ID)
	if err != nil {
		t.Fatalf("get resolution: %v", err)
	}
	if res.Verdict != "Split it." {
		t.Fatalf("unexpected verdict %q", res.Verdict)
	}

	resolved, err := repo.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.ResolvedAt == nil {
		t.Fatalf("dispute not marked resolved: %+v", resolved)
	}

	// The unique index is the last-resort guard against a second verdict.
	tx2, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin second tx: %v", err)
	}
	defer tx2.Rollback(ctx)
	if _, err := repo.InsertResolution(ctx, tx2, d.ID, "Another verdict"); !errors.Is(err, ErrResolutionExists) {
		t.Fatalf("expected ErrResolutionExists, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
