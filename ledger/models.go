package ledger

import "time"

// Status represents the lifecycle of a dispute. A dispute transitions
// open -> resolved exactly once, when its verdict is persisted.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Dispute mirrors the disputes table.
type Dispute struct {
	ID               string
	CreatorAccountID string
	Status           Status
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// Party is one account's participation record within a dispute. Seq fixes the
// join order used for listings and positional statements. Truth is present
// iff Submitted is true.
type Party struct {
	Seq       int64
	DisputeID string
	AccountID string
	Submitted bool
	Truth     *string
	JoinedAt  time.Time
}

// Resolution is the immutable verdict for a dispute. At most one exists per
// dispute, enforced by a unique index as the last-resort guard.
type Resolution struct {
	ID        string
	DisputeID string
	Verdict   string
	CreatedAt time.Time
}

// PartyView is the read-only projection of a party for display.
type PartyView struct {
	Phone     string
	Submitted bool
}

// SubmissionCounts is the quorum snapshot for a dispute.
type SubmissionCounts struct {
	Total     int
	Submitted int
}

// Quorum reports whether every joined party has submitted and the dispute has
// at least two parties. This is the sole trigger condition for arbitration.
func (c SubmissionCounts) Quorum() bool {
	return c.Total >= 2 && c.Submitted == c.Total
}
