// Package storage defines persistence interfaces for indexed claim events,
// indexer progress and the submission journal.
package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
)

// ClaimEventStore provides access to indexed ClaimPublished events.
// Events are keyed by (chain_id, tx_hash, log_index).
type ClaimEventStore interface {
	// Insert adds a new event.
	// Returns ErrDuplicateKey if an event with the same key exists.
	Insert(ctx context.Context, e *domain.PublishedClaimEvent) error

	// InsertBulk adds multiple events atomically.
	// Returns ErrDuplicateKey if any event already exists (entire batch rejected).
	InsertBulk(ctx context.Context, events []*domain.PublishedClaimEvent) error

	// GetByBlockRange retrieves events with from <= block <= to,
	// ordered by (block, tx_index, log_index).
	GetByBlockRange(ctx context.Context, chainID int64, from, to uint64) ([]*domain.PublishedClaimEvent, error)

	// GetBySubject retrieves all events about subject in ledger order.
	GetBySubject(ctx context.Context, chainID int64, subject common.Address) ([]*domain.PublishedClaimEvent, error)

	// GetByIssuer retrieves all events issued by issuer in ledger order.
	GetByIssuer(ctx context.Context, chainID int64, issuer common.Address) ([]*domain.PublishedClaimEvent, error)
}

// SyncProgress is the indexer checkpoint for one chain.
type SyncProgress struct {
	ChainID     int64
	Registry    common.Address
	BlockNumber uint64 // last block fully stored
	UpdatedAt   int64  // Unix ms
}

// SyncProgressStore tracks the indexer checkpoint per chain.
type SyncProgressStore interface {
	// GetLastSynced returns the checkpoint for chainID.
	// Returns ErrNotFound if the chain was never synced.
	GetLastSynced(ctx context.Context, chainID int64) (*SyncProgress, error)

	// SetLastSynced saves the checkpoint, replacing any previous one.
	SetLastSynced(ctx context.Context, p *SyncProgress) error
}

// SubmissionStore is the journal of publication transactions.
type SubmissionStore interface {
	// Upsert inserts a submission or updates the status, block and
	// updated_at of an existing one with the same (chain_id, tx_hash).
	Upsert(ctx context.Context, s *domain.Submission) error

	// Get retrieves a submission by chain and transaction hash.
	// Returns ErrNotFound if no submission exists.
	Get(ctx context.Context, chainID int64, txHash common.Hash) (*domain.Submission, error)

	// GetByRun retrieves all submissions of one run ordered by submitted_at.
	GetByRun(ctx context.Context, runID string) ([]*domain.Submission, error)

	// GetUnresolved retrieves submissions of chainID whose outcome is not final,
	// ordered by submitted_at.
	GetUnresolved(ctx context.Context, chainID int64) ([]*domain.Submission, error)
}
