package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/storage"
)

// claimEventKey is the composite key for claim event deduplication.
type claimEventKey struct {
	ChainID  int64
	TxHash   common.Hash
	LogIndex uint
}

func keyOf(e *domain.PublishedClaimEvent) claimEventKey {
	return claimEventKey{ChainID: e.ChainID, TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// ClaimEventStore is an in-memory implementation of storage.ClaimEventStore.
type ClaimEventStore struct {
	mu   sync.RWMutex
	data []*domain.PublishedClaimEvent
	keys map[claimEventKey]bool
}

// NewClaimEventStore creates a new in-memory claim event store.
func NewClaimEventStore() *ClaimEventStore {
	return &ClaimEventStore{
		data: make([]*domain.PublishedClaimEvent, 0),
		keys: make(map[claimEventKey]bool),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if (chain_id, tx_hash, log_index) exists.
func (s *ClaimEventStore) Insert(_ context.Context, e *domain.PublishedClaimEvent) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(e)
	if s.keys[key] {
		return storage.ErrDuplicateKey
	}

	cp := *e
	s.data = append(s.data, &cp)
	s.keys[key] = true
	return nil
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *ClaimEventStore) InsertBulk(_ context.Context, events []*domain.PublishedClaimEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicates (both existing and intra-batch)
	batchKeys := make(map[claimEventKey]bool, len(events))
	for _, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
		key := keyOf(e)
		if s.keys[key] || batchKeys[key] {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = true
	}

	for _, e := range events {
		cp := *e
		s.data = append(s.data, &cp)
		s.keys[keyOf(e)] = true
	}
	return nil
}

// GetByBlockRange retrieves events with from <= block <= to.
func (s *ClaimEventStore) GetByBlockRange(_ context.Context, chainID int64, from, to uint64) ([]*domain.PublishedClaimEvent, error) {
	return s.filter(func(e *domain.PublishedClaimEvent) bool {
		return e.ChainID == chainID && e.BlockNumber >= from && e.BlockNumber <= to
	}), nil
}

// GetBySubject retrieves all events about subject.
func (s *ClaimEventStore) GetBySubject(_ context.Context, chainID int64, subject common.Address) ([]*domain.PublishedClaimEvent, error) {
	return s.filter(func(e *domain.PublishedClaimEvent) bool {
		return e.ChainID == chainID && e.Claim.Subject == subject
	}), nil
}

// GetByIssuer retrieves all events issued by issuer.
func (s *ClaimEventStore) GetByIssuer(_ context.Context, chainID int64, issuer common.Address) ([]*domain.PublishedClaimEvent, error) {
	return s.filter(func(e *domain.PublishedClaimEvent) bool {
		return e.ChainID == chainID && e.Claim.Issuer.Wire() == issuer
	}), nil
}

func (s *ClaimEventStore) filter(match func(*domain.PublishedClaimEvent) bool) []*domain.PublishedClaimEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PublishedClaimEvent
	for _, e := range s.data {
		if match(e) {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return domain.CompareEvents(result[i], result[j]) < 0
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.ClaimEventStore = (*ClaimEventStore)(nil)
