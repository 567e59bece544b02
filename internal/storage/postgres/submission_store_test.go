package postgres

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/storage"
)

func TestSubmissionStore_Lifecycle(t *testing.T) {
	pool := startPostgres(t)

	ctx := context.Background()
	store := NewSubmissionStore(pool)
	hash := common.HexToHash("0xAbCd")

	sub := &domain.Submission{
		RunID:       "run-1",
		ChainID:     1337,
		TxHash:      hash,
		From:        testIssuer,
		ClaimCount:  2,
		Status:      domain.SubmissionPending,
		SubmittedAt: 1000,
		UpdatedAt:   1000,
	}
	require.NoError(t, store.Upsert(ctx, sub))

	unresolved, err := store.GetUnresolved(ctx, 1337)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, domain.SubmissionPending, unresolved[0].Status)

	sub.Status = domain.SubmissionConfirmed
	sub.BlockNumber = 7
	sub.UpdatedAt = 2000
	require.NoError(t, store.Upsert(ctx, sub))

	got, err := store.Get(ctx, 1337, hash)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionConfirmed, got.Status)
	assert.Equal(t, uint64(7), got.BlockNumber)
	assert.Equal(t, testIssuer, got.From)
	assert.Equal(t, int64(1000), got.SubmittedAt)

	unresolved, err = store.GetUnresolved(ctx, 1337)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	byRun, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, byRun, 1)
}

func TestSubmissionStore_NotFound(t *testing.T) {
	pool := startPostgres(t)

	store := NewSubmissionStore(pool)
	_, err := store.Get(context.Background(), 1337, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSyncProgressStore_Upsert(t *testing.T) {
	pool := startPostgres(t)

	ctx := context.Background()
	store := NewSyncProgressStore(pool)

	_, err := store.GetLastSynced(ctx, 1337)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetLastSynced(ctx, &storage.SyncProgress{ChainID: 1337, Registry: testRegistry, BlockNumber: 10, UpdatedAt: 1}))
	require.NoError(t, store.SetLastSynced(ctx, &storage.SyncProgress{ChainID: 1337, Registry: testRegistry, BlockNumber: 25, UpdatedAt: 2}))

	got, err := store.GetLastSynced(ctx, 1337)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), got.BlockNumber)
	assert.Equal(t, testRegistry, got.Registry)

	assert.ErrorIs(t, store.SetLastSynced(ctx, nil), storage.ErrInvalidInput)
}
