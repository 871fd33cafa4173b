package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/joshnel2/aidisputeapp/ledger"
)

var (
	// ErrPaymentFailed signals the gateway declined or was unreachable. The
	// party's submission state is unchanged and the caller may retry.
	ErrPaymentFailed = errors.New("workflow: payment failed")
	// ErrResolutionUnavailable signals the arbitration call failed. The
	// dispute stays open and the trigger re-fires on the next submission or
	// view.
	ErrResolutionUnavailable = errors.New("workflow: resolution unavailable")
)

// Each submission costs a fixed fee, charged before the truth is recorded.
const (
	submissionFeeMinorUnits  = 100
	submissionFeeCurrency    = "usd"
	submissionFeeDescription = "Dispute submit"

	chargeTimeout      = 30 * time.Second
	arbitrationTimeout = 60 * time.Second
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger defines the dispute-ledger access required by the engine. The
// tx-scoped methods run under the per-dispute row lock held by the verdict
// trigger.
type Ledger interface {
	CreateDispute(ctx context.Context, creatorAccountID string) (ledger.Dispute, error)
	GetDispute(ctx context.Context, disputeID string) (ledger.Dispute, error)
	JoinDispute(ctx context.Context, disputeID, accountID string) (ledger.Party, error)
	GetParty(ctx context.Context, disputeID, accountID string) (ledger.Party, error)
	ListParties(ctx context.Context, disputeID string) ([]ledger.PartyView, error)
	RecordSubmission(ctx context.Context, disputeID, accountID, truth string) (ledger.Party, error)
	GetResolution(ctx context.Context, disputeID string) (ledger.Resolution, error)

	LockDispute(ctx context.Context, tx pgx.Tx, disputeID string) (ledger.Dispute, error)
	SubmissionCounts(ctx context.Context, tx pgx.Tx, disputeID string) (ledger.SubmissionCounts, error)
	PartyStatements(ctx context.Context, tx pgx.Tx, disputeID string) ([]string, error)
	InsertResolution(ctx context.Context, tx pgx.Tx, disputeID, verdict string) (ledger.Resolution, error)
}

// ChargeRequest carries one submission-fee charge to the gateway.
type ChargeRequest struct {
	Token           string
	AmountMinorUnit int64
	Currency        string
	Description     string
}

// ChargeReceipt is the gateway's confirmation of a captured charge.
type ChargeReceipt struct {
	ID              string
	AmountMinorUnit int64
	Currency        string
}

// PaymentGateway captures the submission fee. Any failure maps to
// ErrPaymentFailed regardless of cause.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeReceipt, error)
}

// ResolutionProvider produces a verdict from the parties' statements, given in
// join order with empty text for parties that have not submitted.
type ResolutionProvider interface {
	Resolve(ctx context.Context, partyStatements []string) (string, error)
}

// Service is the dispute workflow engine: creation, joining, paid truth
// submission, quorum detection, and exactly-once verdict generation.
type Service struct {
	pool     TxBeginner
	ledger   Ledger
	payments PaymentGateway
	arbiter  ResolutionProvider
}

// NewService wires the engine. All collaborators are injected at construction.
func NewService(pool TxBeginner, led Ledger, payments PaymentGateway, arbiter ResolutionProvider) *Service {
	return &Service{
		pool:     pool,
		ledger:   led,
		payments: payments,
		arbiter:  arbiter,
	}
}

// CreatedDispute bundles a new dispute with its shareable join reference.
type CreatedDispute struct {
	Dispute ledger.Dispute
	JoinRef string
}

// View is the read projection of a dispute: parties in join order and the
// verdict once one exists.
type View struct {
	Dispute    ledger.Dispute
	Parties    []ledger.PartyView
	Resolution *ledger.Resolution
	JoinRef    string
}

// SubmitOutcome reports a successful paid submission. Resolution is non-nil
// only when this submission completed the quorum and arbitration succeeded;
// nil means the dispute is still open or the verdict is pending retry.
type SubmitOutcome struct {
	Party      ledger.Party
	Receipt    ChargeReceipt
	Resolution *ledger.Resolution
}

// JoinRef returns the shareable join reference for a dispute. The token is
// the dispute id itself; any holder must still authenticate before the join
// is recorded.
func JoinRef(disputeID string) string {
	return "/dispute/join/" + disputeID
}

// CreateDispute opens a dispute for the creator, who joins automatically.
func (s *Service) CreateDispute(ctx context.Context, creatorAccountID string) (CreatedDispute, error) {
	if creatorAccountID == "" {
		return CreatedDispute{}, fmt.Errorf("workflow: creator account id required")
	}

	d, err := s.ledger.CreateDispute(ctx, creatorAccountID)
	if err != nil {
		return CreatedDispute{}, err
	}
	return CreatedDispute{Dispute: d, JoinRef: JoinRef(d.ID)}, nil
}

// JoinDispute records the account as a party, idempotently. The caller must
// already carry a verified account identity; anonymous joins are redirected
// through verification by the presentation layer.
func (s *Service) JoinDispute(ctx context.Context, accountID, disputeID string) (ledger.Party, error) {
	if accountID == "" || disputeID == "" {
		return ledger.Party{}, fmt.Errorf("workflow: account id and dispute id required")
	}
	return s.ledger.JoinDispute(ctx, disputeID, accountID)
}

// ListParties returns the display projection of the dispute's parties in join
// order.
func (s *Service) ListParties(ctx context.Context, disputeID string) ([]ledger.PartyView, error) {
	if _, err := s.ledger.GetDispute(ctx, disputeID); err != nil {
		return nil, err
	}
	return s.ledger.ListParties(ctx, disputeID)
}

// SubmitTruth records a party's statement after charging the submission fee.
// The ledger write happens only after the charge succeeds, and a failed
// charge leaves the party exactly as it was. Once the write commits, the
// quorum condition is re-evaluated and may produce the verdict.
func (s *Service) SubmitTruth(ctx context.Context, accountID, disputeID, truth, paymentToken string) (SubmitOutcome, error) {
	party, err := s.ledger.GetParty(ctx, disputeID, accountID)
	if err != nil {
		return SubmitOutcome{}, err
	}
	if party.Submitted {
		return SubmitOutcome{}, ledger.ErrAlreadySubmitted
	}

	chargeCtx, cancel := context.WithTimeout(ctx, chargeTimeout)
	defer cancel()
	receipt, err := s.payments.Charge(chargeCtx, ChargeRequest{
		Token:           paymentToken,
		AmountMinorUnit: submissionFeeMinorUnits,
		Currency:        submissionFeeCurrency,
		Description:     submissionFeeDescription,
	})
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	party, err = s.ledger.RecordSubmission(ctx, disputeID, accountID, truth)
	if err != nil {
		return SubmitOutcome{}, err
	}

	outcome := SubmitOutcome{Party: party, Receipt: receipt}

	res, err := s.maybeGenerateVerdict(ctx, disputeID)
	if err != nil {
		if errors.Is(err, ErrResolutionUnavailable) {
			// The submission stands; the verdict stays pending and the
			// trigger re-fires on the next submission or view.
			return outcome, nil
		}
		return outcome, err
	}
	outcome.Resolution = res
	return outcome, nil
}

// DisputeView returns the dispute's parties and verdict. The read path
// re-evaluates the trigger as a lazy catch-up for disputes whose triggering
// submission failed to obtain a verdict.
func (s *Service) DisputeView(ctx context.Context, disputeID string) (View, error) {
	d, err := s.ledger.GetDispute(ctx, disputeID)
	if err != nil {
		return View{}, err
	}

	res, err := s.maybeGenerateVerdict(ctx, disputeID)
	if err != nil && !errors.Is(err, ErrResolutionUnavailable) {
		return View{}, err
	}

	parties, err := s.ledger.ListParties(ctx, disputeID)
	if err != nil {
		return View{}, err
	}

	if res != nil {
		d.Status = ledger.StatusResolved
	}
	return View{
		Dispute:    d,
		Parties:    parties,
		Resolution: res,
		JoinRef:    JoinRef(disputeID),
	}, nil
}

// maybeGenerateVerdict runs the idempotent verdict trigger. The dispute row
// is locked FOR UPDATE for the whole read-check-write sequence, so concurrent
// submissions that both observe quorum serialize here and only the first one
// calls the provider. The lock scope is one dispute row; unrelated disputes
// are untouched. It returns the resolution when one exists (pre-existing or
// freshly generated) and nil when the quorum is not met.
func (s *Service) maybeGenerateVerdict(ctx context.Context, disputeID string) (*ledger.Resolution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: begin verdict tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.ledger.LockDispute(ctx, tx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == ledger.StatusResolved {
		return s.existingResolution(ctx, disputeID)
	}

	counts, err := s.ledger.SubmissionCounts(ctx, tx, disputeID)
	if err != nil {
		return nil, err
	}
	if !counts.Quorum() {
		return nil, nil
	}

	statements, err := s.ledger.PartyStatements(ctx, tx, disputeID)
	if err != nil {
		return nil, err
	}

	arbCtx, cancel := context.WithTimeout(ctx, arbitrationTimeout)
	defer cancel()
	verdict, err := s.arbiter.Resolve(arbCtx, statements)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionUnavailable, err)
	}

	res, err := s.ledger.InsertResolution(ctx, tx, disputeID, verdict)
	if err != nil {
		if errors.Is(err, ledger.ErrResolutionExists) {
			return s.existingResolution(ctx, disputeID)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workflow: commit verdict: %w", err)
	}
	return &res, nil
}

func (s *Service) existingResolution(ctx context.Context, disputeID string) (*ledger.Resolution, error) {
	res, err := s.ledger.GetResolution(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
