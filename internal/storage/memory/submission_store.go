package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/storage"
)

type submissionKey struct {
	ChainID int64
	TxHash  common.Hash
}

// SubmissionStore is an in-memory implementation of storage.SubmissionStore.
type SubmissionStore struct {
	mu   sync.RWMutex
	data map[submissionKey]*domain.Submission
}

// NewSubmissionStore creates a new in-memory submission journal.
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		data: make(map[submissionKey]*domain.Submission),
	}
}

// Upsert inserts s or updates status, block and updated_at of the existing entry.
func (st *SubmissionStore) Upsert(_ context.Context, s *domain.Submission) error {
	if err := storage.ValidateSubmission(s); err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	key := submissionKey{ChainID: s.ChainID, TxHash: s.TxHash}
	if existing, ok := st.data[key]; ok {
		existing.Status = s.Status
		existing.BlockNumber = s.BlockNumber
		existing.UpdatedAt = s.UpdatedAt
		return nil
	}

	cp := *s
	st.data[key] = &cp
	return nil
}

// Get retrieves a submission by chain and transaction hash.
func (st *SubmissionStore) Get(_ context.Context, chainID int64, txHash common.Hash) (*domain.Submission, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.data[submissionKey{ChainID: chainID, TxHash: txHash}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// GetByRun retrieves all submissions of runID.
func (st *SubmissionStore) GetByRun(_ context.Context, runID string) ([]*domain.Submission, error) {
	return st.filter(func(s *domain.Submission) bool {
		return s.RunID == runID
	}), nil
}

// GetUnresolved retrieves the non-final submissions of chainID.
func (st *SubmissionStore) GetUnresolved(_ context.Context, chainID int64) ([]*domain.Submission, error) {
	return st.filter(func(s *domain.Submission) bool {
		return s.ChainID == chainID && !s.Status.Final()
	}), nil
}

func (st *SubmissionStore) filter(match func(*domain.Submission) bool) []*domain.Submission {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*domain.Submission
	for _, s := range st.data {
		if match(s) {
			cp := *s
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SubmittedAt != result[j].SubmittedAt {
			return result[i].SubmittedAt < result[j].SubmittedAt
		}
		return result[i].TxHash.Hex() < result[j].TxHash.Hex()
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.SubmissionStore = (*SubmissionStore)(nil)
