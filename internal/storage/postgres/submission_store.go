package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/storage"
)

// SubmissionStore implements storage.SubmissionStore using PostgreSQL.
type SubmissionStore struct {
	pool *Pool
}

// NewSubmissionStore creates a new SubmissionStore.
func NewSubmissionStore(pool *Pool) *SubmissionStore {
	return &SubmissionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SubmissionStore = (*SubmissionStore)(nil)

const selectSubmissionColumns = `
	SELECT chain_id, tx_hash, run_id, from_address, claim_count, status,
		block_number, submitted_at, updated_at
	FROM submissions
`

// Upsert inserts s or updates status, block and updated_at of the existing row.
func (st *SubmissionStore) Upsert(ctx context.Context, s *domain.Submission) error {
	if err := storage.ValidateSubmission(s); err != nil {
		return err
	}

	start := time.Now()
	_, err := st.pool.Exec(ctx, `
		INSERT INTO submissions (
			chain_id, tx_hash, run_id, from_address, claim_count, status,
			block_number, submitted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chain_id, tx_hash) DO UPDATE
		SET status = EXCLUDED.status,
		    block_number = EXCLUDED.block_number,
		    updated_at = EXCLUDED.updated_at
	`,
		s.ChainID,
		hexKey(s.TxHash.Hex()),
		s.RunID,
		hexKey(s.From.Hex()),
		s.ClaimCount,
		string(s.Status),
		int64(s.BlockNumber),
		s.SubmittedAt,
		s.UpdatedAt,
	)
	observe("upsert_submission", start, err)
	if err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}
	return nil
}

// Get retrieves a submission by chain and transaction hash.
func (st *SubmissionStore) Get(ctx context.Context, chainID int64, txHash common.Hash) (*domain.Submission, error) {
	rows, err := st.pool.Query(ctx, selectSubmissionColumns+`
		WHERE chain_id = $1 AND tx_hash = $2
	`, chainID, hexKey(txHash.Hex()))
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	defer rows.Close()

	subs, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, storage.ErrNotFound
	}
	return subs[0], nil
}

// GetByRun retrieves all submissions of runID.
func (st *SubmissionStore) GetByRun(ctx context.Context, runID string) ([]*domain.Submission, error) {
	start := time.Now()
	rows, err := st.pool.Query(ctx, selectSubmissionColumns+`
		WHERE run_id = $1
		ORDER BY submitted_at ASC, tx_hash ASC
	`, runID)
	observe("get_submissions_by_run", start, err)
	if err != nil {
		return nil, fmt.Errorf("get submissions by run: %w", err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

// GetUnresolved retrieves the non-final submissions of chainID.
func (st *SubmissionStore) GetUnresolved(ctx context.Context, chainID int64) ([]*domain.Submission, error) {
	start := time.Now()
	rows, err := st.pool.Query(ctx, selectSubmissionColumns+`
		WHERE chain_id = $1 AND status NOT IN ($2, $3)
		ORDER BY submitted_at ASC, tx_hash ASC
	`, chainID, string(domain.SubmissionConfirmed), string(domain.SubmissionReverted))
	observe("get_unresolved_submissions", start, err)
	if err != nil {
		return nil, fmt.Errorf("get unresolved submissions: %w", err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

func scanSubmissions(rows pgx.Rows) ([]*domain.Submission, error) {
	var result []*domain.Submission
	for rows.Next() {
		var (
			s            domain.Submission
			txHash, from string
			status       string
			block        int64
		)
		err := rows.Scan(&s.ChainID, &txHash, &s.RunID, &from, &s.ClaimCount, &status,
			&block, &s.SubmittedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.TxHash = common.HexToHash(txHash)
		s.From = common.HexToAddress(from)
		s.Status = domain.SubmissionStatus(status)
		s.BlockNumber = uint64(block)
		result = append(result, &s)
	}
	return result, rows.Err()
}
