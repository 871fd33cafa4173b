package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joshnel2/aidisputeapp/workflow"
)

// Gateway approves every charge and hands out sequential receipt ids. It
// counts charges so the harness can check fees against recorded submissions.
type Gateway struct {
	charges atomic.Int64
}

func (g *Gateway) Charge(_ context.Context, req workflow.ChargeRequest) (workflow.ChargeReceipt, error) {
	n := g.charges.Add(1)
	return workflow.ChargeReceipt{
		ID:              fmt.Sprintf("ch_stress_%d", n),
		AmountMinorUnit: req.AmountMinorUnit,
		Currency:        req.Currency,
	}, nil
}

func (g *Gateway) Charges() int64 { return g.charges.Load() }

// Arbiter counts resolve calls and injects latency so concurrent quorum
// observers overlap inside the verdict window. FailEvery > 0 makes every
// n-th call fail, exercising the lazy retry path.
type Arbiter struct {
	Delay     time.Duration
	FailEvery int64

	calls atomic.Int64
}

func (a *Arbiter) Resolve(ctx context.Context, statements []string) (string, error) {
	n := a.calls.Add(1)
	if a.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.Delay):
		}
	}
	if a.FailEvery > 0 && n%a.FailEvery == 0 {
		return "", fmt.Errorf("arbiter: injected failure on call %d", n)
	}
	return fmt.Sprintf("verdict after %d statements (call %d)", len(statements), n), nil
}

func (a *Arbiter) Calls() int64 { return a.calls.Load() }

// SeedAccount inserts a verified account directly and returns its id.
func SeedAccount(ctx context.Context, pool *pgxpool.Pool, phone string) (string, error) {
	var id string
	err := pool.QueryRow(ctx,
		`INSERT INTO accounts (phone, verified) VALUES ($1, TRUE) RETURNING id`, phone).Scan(&id)
	return id, err
}

// Actor errors are swallowed: chaos kills backends mid-query and contention
// produces expected sentinels (ErrAlreadySubmitted, ErrResolutionUnavailable),
// so correctness is judged by the oracles, not by actor return values.

// Creator opens fresh disputes so the ledger always has open work.
func Creator(ctx context.Context, svc *workflow.Service, accountID string, created *DisputeSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if out, err := svc.CreateDispute(ctx, accountID); err == nil {
			created.Add(out.Dispute.ID)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Joiner follows join references for random known disputes, repeatedly, so
// the idempotent join path sees the same account arriving more than once.
func Joiner(ctx context.Context, svc *workflow.Service, accountID string, disputes *DisputeSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if id, ok := disputes.Random(); ok {
			_, _ = svc.JoinDispute(ctx, accountID, id)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Submitter pays and submits truths for disputes it belongs to. Repeat
// submissions bounce with ErrAlreadySubmitted, which is the point.
func Submitter(ctx context.Context, svc *workflow.Service, accountID string, disputes *DisputeSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if id, ok := disputes.Random(); ok {
			// Join first so submissions race against quorum detection.
			_, _ = svc.JoinDispute(ctx, accountID, id)
			truth := fmt.Sprintf("statement from %s at %d", accountID, time.Now().UnixNano())
			_, _ = svc.SubmitTruth(ctx, accountID, id, truth, "tok_stress")
		}
		time.Sleep(time.Duration(20+rand.Intn(50)) * time.Millisecond)
	}
}

// Viewer reads dispute views, which doubles as the lazy verdict catch-up
// when an injected arbiter failure left a quorum without a resolution.
func Viewer(ctx context.Context, svc *workflow.Service, disputes *DisputeSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if id, ok := disputes.Random(); ok {
			_, _ = svc.DisputeView(ctx, id)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// DisputeSet is the shared pool of dispute ids the actors work against.
type DisputeSet struct {
	mu  sync.Mutex
	ids []string
}

func (s *DisputeSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
}

func (s *DisputeSet) Random() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[rand.Intn(len(s.ids))], true
}
