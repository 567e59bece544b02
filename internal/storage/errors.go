package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
)

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when no event, checkpoint or submission matches the key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an event with the same
	// (chain_id, tx_hash, log_index) is already stored. Claim events are append-only.
	ErrDuplicateKey = errors.New("duplicate key: claim event already stored")

	// ErrInvalidInput is returned when a record cannot be keyed.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidateEvent checks that e carries its dedup key.
func ValidateEvent(e *domain.PublishedClaimEvent) error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil claim event", ErrInvalidInput)
	case e.ChainID <= 0:
		return fmt.Errorf("%w: claim event chain id %d", ErrInvalidInput, e.ChainID)
	case e.TxHash == (common.Hash{}):
		return fmt.Errorf("%w: claim event without transaction hash", ErrInvalidInput)
	}
	return nil
}

// ValidateSubmission checks that s can be journaled.
func ValidateSubmission(s *domain.Submission) error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: nil submission", ErrInvalidInput)
	case s.ChainID <= 0:
		return fmt.Errorf("%w: submission chain id %d", ErrInvalidInput, s.ChainID)
	case s.TxHash == (common.Hash{}):
		return fmt.Errorf("%w: submission without transaction hash", ErrInvalidInput)
	}
	return nil
}

// ValidateProgress checks a checkpoint before it is saved.
func ValidateProgress(p *SyncProgress) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: nil checkpoint", ErrInvalidInput)
	case p.ChainID <= 0:
		return fmt.Errorf("%w: checkpoint chain id %d", ErrInvalidInput, p.ChainID)
	}
	return nil
}
