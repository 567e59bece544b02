package memory

import (
	"context"
	"sync"

	"dtp-claims/internal/storage"
)

// SyncProgressStore is an in-memory implementation of storage.SyncProgressStore.
type SyncProgressStore struct {
	mu       sync.RWMutex
	progress map[int64]storage.SyncProgress
}

// NewSyncProgressStore creates a new in-memory sync progress store.
func NewSyncProgressStore() *SyncProgressStore {
	return &SyncProgressStore{
		progress: make(map[int64]storage.SyncProgress),
	}
}

// GetLastSynced returns the checkpoint for chainID.
func (s *SyncProgressStore) GetLastSynced(_ context.Context, chainID int64) (*storage.SyncProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[chainID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// SetLastSynced saves the checkpoint.
func (s *SyncProgressStore) SetLastSynced(_ context.Context, p *storage.SyncProgress) error {
	if err := storage.ValidateProgress(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[p.ChainID] = *p
	return nil
}

// Verify interface compliance at compile time.
var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)
