package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/storage"
)

// SyncProgressStore is a PostgreSQL implementation of storage.SyncProgressStore.
// One row per chain in sync_progress.
type SyncProgressStore struct {
	pool *Pool
}

// NewSyncProgressStore creates a new PostgreSQL sync progress store.
func NewSyncProgressStore(pool *Pool) *SyncProgressStore {
	return &SyncProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)

// GetLastSynced returns the checkpoint for chainID.
func (s *SyncProgressStore) GetLastSynced(ctx context.Context, chainID int64) (*storage.SyncProgress, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT chain_id, registry, block_number, updated_at
		FROM sync_progress
		WHERE chain_id = $1
	`, chainID)

	var (
		p        storage.SyncProgress
		registry string
		block    int64
	)
	err := row.Scan(&p.ChainID, &registry, &block, &p.UpdatedAt)
	observe("get_sync_progress", start, err)
	if err != nil {
		return nil, translate("get sync progress", err)
	}

	p.Registry = common.HexToAddress(registry)
	p.BlockNumber = uint64(block)
	return &p, nil
}

// SetLastSynced saves the checkpoint.
// Uses upsert to handle initial insert and subsequent updates.
func (s *SyncProgressStore) SetLastSynced(ctx context.Context, p *storage.SyncProgress) error {
	if err := storage.ValidateProgress(p); err != nil {
		return err
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_progress (chain_id, registry, block_number, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id) DO UPDATE
		SET registry = EXCLUDED.registry,
		    block_number = EXCLUDED.block_number,
		    updated_at = EXCLUDED.updated_at
	`, p.ChainID, hexKey(p.Registry.Hex()), int64(p.BlockNumber), p.UpdatedAt)
	observe("set_sync_progress", start, err)
	if err != nil {
		return fmt.Errorf("set sync progress: %w", err)
	}
	return nil
}
