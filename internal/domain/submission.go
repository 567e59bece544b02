package domain

import "github.com/ethereum/go-ethereum/common"

// SubmissionStatus tracks a publication transaction through its lifecycle.
type SubmissionStatus string

// Submission statuses.
const (
	SubmissionPending   SubmissionStatus = "PENDING"   // accepted, awaiting confirmation
	SubmissionConfirmed SubmissionStatus = "CONFIRMED" // confirmed, executed successfully
	SubmissionReverted  SubmissionStatus = "REVERTED"  // confirmed, execution failed
	SubmissionTimedOut  SubmissionStatus = "TIMED_OUT" // outcome unknown at the deadline
	SubmissionCancelled SubmissionStatus = "CANCELLED" // caller gave up while waiting
)

// Final reports whether the status can no longer change.
func (s SubmissionStatus) Final() bool {
	return s == SubmissionConfirmed || s == SubmissionReverted
}

// Submission is a journal entry for one publication transaction.
// Timed out and cancelled entries must be re-queried before resubmitting.
type Submission struct {
	RunID       string // groups the submissions of one invocation
	ChainID     int64
	TxHash      common.Hash
	From        common.Address
	ClaimCount  int
	Status      SubmissionStatus
	BlockNumber uint64 // 0 until confirmed
	SubmittedAt int64  // Unix ms
	UpdatedAt   int64  // Unix ms
}
