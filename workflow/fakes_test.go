package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/joshnel2/aidisputeapp/ledger"
)

// fakeLedger is an in-memory Ledger whose LockDispute holds a real per-dispute
// mutex until the transaction finishes, mirroring the row lock the Postgres
// repository takes FOR UPDATE.
type fakeLedger struct {
	mu          sync.Mutex
	nextID      int
	nextSeq     int64
	disputes    map[string]ledger.Dispute
	parties     map[string][]*ledger.Party
	resolutions map[string]ledger.Resolution
	locks       map[string]*sync.Mutex
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		disputes:    make(map[string]ledger.Dispute),
		parties:     make(map[string][]*ledger.Party),
		resolutions: make(map[string]ledger.Resolution),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (f *fakeLedger) CreateDispute(_ context.Context, creatorAccountID string) (ledger.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.nextSeq++
	d := ledger.Dispute{
		ID:               fmt.Sprintf("d-%d", f.nextID),
		CreatorAccountID: creatorAccountID,
		Status:           ledger.StatusOpen,
		CreatedAt:        time.Now().UTC(),
	}
	f.disputes[d.ID] = d
	f.parties[d.ID] = []*ledger.Party{{
		Seq:       f.nextSeq,
		DisputeID: d.ID,
		AccountID: creatorAccountID,
		JoinedAt:  time.Now().UTC(),
	}}
	return d, nil
}

func (f *fakeLedger) GetDispute(_ context.Context, disputeID string) (ledger.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.disputes[disputeID]
	if !ok {
		return ledger.Dispute{}, ledger.ErrDisputeNotFound
	}
	return d, nil
}

func (f *fakeLedger) JoinDispute(_ context.Context, disputeID, accountID string) (ledger.Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.disputes[disputeID]; !ok {
		return ledger.Party{}, ledger.ErrDisputeNotFound
	}
	for _, p := range f.parties[disputeID] {
		if p.AccountID == accountID {
			return *p, nil
		}
	}
	f.nextSeq++
	party := &ledger.Party{
		Seq:       f.nextSeq,
		DisputeID: disputeID,
		AccountID: accountID,
		JoinedAt:  time.Now().UTC(),
	}
	f.parties[disputeID] = append(f.parties[disputeID], party)
	return *party, nil
}

func (f *fakeLedger) GetParty(_ context.Context, disputeID, accountID string) (ledger.Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.parties[disputeID] {
		if p.AccountID == accountID {
			return *p, nil
		}
	}
	return ledger.Party{}, ledger.ErrNotAParty
}

func (f *fakeLedger) ListParties(_ context.Context, disputeID string) ([]ledger.PartyView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]ledger.PartyView, 0, len(f.parties[disputeID]))
	for _, p := range f.parties[disputeID] {
		out = append(out, ledger.PartyView{Phone: p.AccountID, Submitted: p.Submitted})
	}
	return out, nil
}

func (f *fakeLedger) RecordSubmission(_ context.Context, disputeID, accountID, truth string) (ledger.Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.parties[disputeID] {
		if p.AccountID != accountID {
			continue
		}
		if p.Submitted {
			return ledger.Party{}, ledger.ErrAlreadySubmitted
		}
		text := truth
		p.Submitted = true
		p.Truth = &text
		return *p, nil
	}
	return ledger.Party{}, ledger.ErrNotAParty
}

func (f *fakeLedger) GetResolution(_ context.Context, disputeID string) (ledger.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, ok := f.resolutions[disputeID]
	if !ok {
		return ledger.Resolution{}, ledger.ErrNoResolution
	}
	return res, nil
}

func (f *fakeLedger) LockDispute(_ context.Context, tx pgx.Tx, disputeID string) (ledger.Dispute, error) {
	f.mu.Lock()
	lock, ok := f.locks[disputeID]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[disputeID] = lock
	}
	f.mu.Unlock()

	// Block like a row lock; released when the transaction finishes.
	lock.Lock()
	tx.(*fakeTx).onFinish(lock.Unlock)

	f.mu.Lock()
	defer f.mu.Unlock()
	d, found := f.disputes[disputeID]
	if !found {
		return ledger.Dispute{}, ledger.ErrDisputeNotFound
	}
	return d, nil
}

func (f *fakeLedger) SubmissionCounts(_ context.Context, _ pgx.Tx, disputeID string) (ledger.SubmissionCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var counts ledger.SubmissionCounts
	for _, p := range f.parties[disputeID] {
		counts.Total++
		if p.Submitted {
			counts.Submitted++
		}
	}
	return counts, nil
}

func (f *fakeLedger) PartyStatements(_ context.Context, _ pgx.Tx, disputeID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.parties[disputeID]))
	for _, p := range f.parties[disputeID] {
		if p.Truth != nil {
			out = append(out, *p.Truth)
		} else {
			out = append(out, "")
		}
	}
	return out, nil
}

func (f *fakeLedger) InsertResolution(_ context.Context, _ pgx.Tx, disputeID, verdict string) (ledger.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.resolutions[disputeID]; exists {
		return ledger.Resolution{}, ledger.ErrResolutionExists
	}
	res := ledger.Resolution{
		ID:        "res-" + disputeID,
		DisputeID: disputeID,
		Verdict:   verdict,
		CreatedAt: time.Now().UTC(),
	}
	f.resolutions[disputeID] = res

	d := f.disputes[disputeID]
	d.Status = ledger.StatusResolved
	now := time.Now().UTC()
	d.ResolvedAt = &now
	f.disputes[disputeID] = d
	return res, nil
}

func (f *fakeLedger) resolutionCount(disputeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.resolutions[disputeID]; ok {
		return 1
	}
	return 0
}

type fakePool struct{}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

// fakeTx tracks commit/rollback and runs registered release hooks exactly
// once, so fakeLedger's per-dispute locks behave like row locks.
type fakeTx struct {
	mu       sync.Mutex
	done     bool
	releases []func()
}

func (t *fakeTx) onFinish(release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releases = append(t.releases, release)
}

func (t *fakeTx) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	for _, release := range t.releases {
		release()
	}
}

func (t *fakeTx) Commit(context.Context) error   { t.finish(); return nil }
func (t *fakeTx) Rollback(context.Context) error { t.finish(); return nil }

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeGateway struct {
	mu  sync.Mutex
	err error
	log []ChargeRequest
}

func (f *fakeGateway) Charge(_ context.Context, req ChargeRequest) (ChargeReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return ChargeReceipt{}, f.err
	}
	f.log = append(f.log, req)
	return ChargeReceipt{
		ID:              fmt.Sprintf("ch_%d", len(f.log)),
		AmountMinorUnit: req.AmountMinorUnit,
		Currency:        req.Currency,
	}, nil
}

func (f *fakeGateway) charges() []ChargeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ChargeRequest, len(f.log))
	copy(out, f.log)
	return out
}

type fakeArbiter struct {
	mu        sync.Mutex
	verdict   string
	failFirst int
	delay     time.Duration
	count     int
	last      []string
}

func (f *fakeArbiter) Resolve(_ context.Context, statements []string) (string, error) {
	f.mu.Lock()
	f.count++
	call := f.count
	f.last = append([]string(nil), statements...)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if call <= f.failFirst {
		return "", errors.New("arbitration backend unavailable")
	}
	return f.verdict, nil
}

func (f *fakeArbiter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeArbiter) lastStatements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.last...)
}
