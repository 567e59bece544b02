package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/storage"
)

// ClaimEventStore implements storage.ClaimEventStore using PostgreSQL.
type ClaimEventStore struct {
	pool *Pool
}

// NewClaimEventStore creates a new ClaimEventStore.
func NewClaimEventStore(pool *Pool) *ClaimEventStore {
	return &ClaimEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClaimEventStore = (*ClaimEventStore)(nil)

const insertClaimEventQuery = `
	INSERT INTO claim_events (
		chain_id, tx_hash, log_index, tx_index, block_number, block_hash, registry,
		type_id, issuer, subject, value, scope, context, comment, link, activate, expire
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::numeric, $17::numeric)
`

const selectClaimEventColumns = `
	SELECT chain_id, tx_hash, log_index, tx_index, block_number, block_hash, registry,
		type_id, issuer, subject, value, scope, context, comment, link, activate::text, expire::text
	FROM claim_events
`

func claimEventArgs(e *domain.PublishedClaimEvent) []any {
	c := e.Claim
	return []any{
		e.ChainID,
		hexKey(e.TxHash.Hex()),
		int64(e.LogIndex),
		int64(e.TxIndex),
		int64(e.BlockNumber),
		hexKey(e.BlockHash.Hex()),
		hexKey(e.Registry.Hex()),
		string(c.TypeID),
		hexKey(c.Issuer.Wire().Hex()),
		hexKey(c.Subject.Hex()),
		c.Value,
		string(c.Scope),
		c.Context,
		c.Comment,
		c.Link,
		strconv.FormatUint(c.Activate, 10),
		strconv.FormatUint(c.Expire, 10),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if (chain_id, tx_hash, log_index) exists.
func (s *ClaimEventStore) Insert(ctx context.Context, e *domain.PublishedClaimEvent) (err error) {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}
	defer func(start time.Time) { observe("insert_claim_event", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, insertClaimEventQuery, claimEventArgs(e)...)
	return translate("insert claim event", err)
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *ClaimEventStore) InsertBulk(ctx context.Context, events []*domain.PublishedClaimEvent) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
		batch.Queue(insertClaimEventQuery, claimEventArgs(e)...)
	}

	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			results.Close()
			observe("insert_claim_events_bulk", start, err)
			return translate("insert claim event in bulk", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	observe("insert_claim_events_bulk", start, nil)
	return nil
}

// GetByBlockRange retrieves events with from <= block <= to.
func (s *ClaimEventStore) GetByBlockRange(ctx context.Context, chainID int64, from, to uint64) ([]*domain.PublishedClaimEvent, error) {
	query := selectClaimEventColumns + `
		WHERE chain_id = $1 AND block_number >= $2 AND block_number <= $3
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	return s.query(ctx, "get_claim_events_by_block_range", query, chainID, int64(from), int64(to))
}

// GetBySubject retrieves all events about subject.
func (s *ClaimEventStore) GetBySubject(ctx context.Context, chainID int64, subject common.Address) ([]*domain.PublishedClaimEvent, error) {
	query := selectClaimEventColumns + `
		WHERE chain_id = $1 AND subject = $2
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	return s.query(ctx, "get_claim_events_by_subject", query, chainID, hexKey(subject.Hex()))
}

// GetByIssuer retrieves all events issued by issuer.
func (s *ClaimEventStore) GetByIssuer(ctx context.Context, chainID int64, issuer common.Address) ([]*domain.PublishedClaimEvent, error) {
	query := selectClaimEventColumns + `
		WHERE chain_id = $1 AND issuer = $2
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	return s.query(ctx, "get_claim_events_by_issuer", query, chainID, hexKey(issuer.Hex()))
}

func (s *ClaimEventStore) query(ctx context.Context, operation, query string, args ...any) (events []*domain.PublishedClaimEvent, err error) {
	defer func(start time.Time) { observe(operation, start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ReplaceAll(operation, "_", " "), err)
	}
	defer rows.Close()

	return scanClaimEvents(rows)
}

func scanClaimEvents(rows pgx.Rows) ([]*domain.PublishedClaimEvent, error) {
	var result []*domain.PublishedClaimEvent
	for rows.Next() {
		var (
			e                              domain.PublishedClaimEvent
			txHash, blockHash, registry    string
			issuer, subject, typeID, scope string
			logIndex, txIndex, blockNumber int64
			activate, expire               string
		)
		err := rows.Scan(
			&e.ChainID, &txHash, &logIndex, &txIndex, &blockNumber, &blockHash, &registry,
			&typeID, &issuer, &subject, &e.Claim.Value, &scope, &e.Claim.Context,
			&e.Claim.Comment, &e.Claim.Link, &activate, &expire,
		)
		if err != nil {
			return nil, fmt.Errorf("scan claim event: %w", err)
		}

		e.TxHash = common.HexToHash(txHash)
		e.BlockHash = common.HexToHash(blockHash)
		e.Registry = common.HexToAddress(registry)
		e.LogIndex = uint(logIndex)
		e.TxIndex = uint(txIndex)
		e.BlockNumber = uint64(blockNumber)
		e.Claim.TypeID = domain.TypeID(typeID)
		e.Claim.Issuer = domain.IssuedBy(common.HexToAddress(issuer))
		e.Claim.Subject = common.HexToAddress(subject)
		e.Claim.Scope = domain.Scope(scope)
		if e.Claim.Activate, err = strconv.ParseUint(activate, 10, 64); err != nil {
			return nil, fmt.Errorf("scan claim event activate: %w", err)
		}
		if e.Claim.Expire, err = strconv.ParseUint(expire, 10, 64); err != nil {
			return nil, fmt.Errorf("scan claim event expire: %w", err)
		}

		result = append(result, &e)
	}
	return result, rows.Err()
}

// hexKey normalises hex identifiers to lower case so lookups are case-insensitive.
func hexKey(s string) string {
	return strings.ToLower(s)
}
