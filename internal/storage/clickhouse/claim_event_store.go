package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/storage"
)

// ClaimEventStore implements storage.ClaimEventStore using ClickHouse.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
type ClaimEventStore struct {
	conn *Conn
}

// NewClaimEventStore creates a new ClaimEventStore.
func NewClaimEventStore(conn *Conn) *ClaimEventStore {
	return &ClaimEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ClaimEventStore = (*ClaimEventStore)(nil)

const selectClaimEventColumns = `
	SELECT chain_id, tx_hash, log_index, tx_index, block_number, block_hash, registry,
		type_id, issuer, subject, value, scope, context, comment, link, activate, expire
	FROM claim_events FINAL
`

type eventKey struct {
	chainID  int64
	txHash   string
	logIndex uint32
}

func keyOf(e *domain.PublishedClaimEvent) eventKey {
	return eventKey{e.ChainID, strings.ToLower(e.TxHash.Hex()), uint32(e.LogIndex)}
}

// Insert adds a new event. Returns ErrDuplicateKey if (chain_id, tx_hash, log_index) exists.
func (s *ClaimEventStore) Insert(ctx context.Context, e *domain.PublishedClaimEvent) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}
	return s.InsertBulk(ctx, []*domain.PublishedClaimEvent{e})
}

// InsertBulk adds multiple events. Fails entire batch on any duplicate.
func (s *ClaimEventStore) InsertBulk(ctx context.Context, events []*domain.PublishedClaimEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("insert_claim_events", start, err) }(time.Now())

	// Check for intra-batch duplicates
	seen := make(map[eventKey]struct{}, len(events))
	for _, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
		k := keyOf(e)
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing rows in the batch's block span
	existing, err := s.existingKeys(ctx, events)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	for k := range seen {
		if _, dup := existing[k]; dup {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO claim_events (
			chain_id, tx_hash, log_index, tx_index, block_number, block_hash, registry,
			type_id, issuer, subject, value, scope, context, comment, link, activate, expire
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		c := e.Claim
		err = batch.Append(
			e.ChainID,
			strings.ToLower(e.TxHash.Hex()),
			uint32(e.LogIndex),
			uint32(e.TxIndex),
			e.BlockNumber,
			strings.ToLower(e.BlockHash.Hex()),
			strings.ToLower(e.Registry.Hex()),
			string(c.TypeID),
			strings.ToLower(c.Issuer.Wire().Hex()),
			strings.ToLower(c.Subject.Hex()),
			c.Value,
			string(c.Scope),
			c.Context,
			c.Comment,
			c.Link,
			c.Activate,
			c.Expire,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByBlockRange retrieves events with from <= block <= to.
func (s *ClaimEventStore) GetByBlockRange(ctx context.Context, chainID int64, from, to uint64) ([]*domain.PublishedClaimEvent, error) {
	query := selectClaimEventColumns + `
		WHERE chain_id = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	return s.query(ctx, "query by block range", query, chainID, from, to)
}

// GetBySubject retrieves all events about subject.
func (s *ClaimEventStore) GetBySubject(ctx context.Context, chainID int64, subject common.Address) ([]*domain.PublishedClaimEvent, error) {
	query := selectClaimEventColumns + `
		WHERE chain_id = ? AND subject = ?
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	return s.query(ctx, "query by subject", query, chainID, strings.ToLower(subject.Hex()))
}

// GetByIssuer retrieves all events issued by issuer.
func (s *ClaimEventStore) GetByIssuer(ctx context.Context, chainID int64, issuer common.Address) ([]*domain.PublishedClaimEvent, error) {
	query := selectClaimEventColumns + `
		WHERE chain_id = ? AND issuer = ?
		ORDER BY block_number ASC, tx_index ASC, log_index ASC
	`
	return s.query(ctx, "query by issuer", query, chainID, strings.ToLower(issuer.Hex()))
}

func (s *ClaimEventStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*domain.PublishedClaimEvent, error) {
	start := time.Now()
	rows, err := s.conn.Query(ctx, query, args...)
	observe(strings.ReplaceAll(op, " ", "_"), start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	return scanClaimEvents(rows)
}

// existingKeys returns the stored keys that share chain and block span with events.
func (s *ClaimEventStore) existingKeys(ctx context.Context, events []*domain.PublishedClaimEvent) (map[eventKey]struct{}, error) {
	type span struct{ from, to uint64 }
	spans := make(map[int64]span)
	for _, e := range events {
		sp, ok := spans[e.ChainID]
		if !ok {
			sp = span{e.BlockNumber, e.BlockNumber}
		}
		sp.from = min(sp.from, e.BlockNumber)
		sp.to = max(sp.to, e.BlockNumber)
		spans[e.ChainID] = sp
	}

	keys := make(map[eventKey]struct{})
	for chainID, sp := range spans {
		rows, err := s.conn.Query(ctx, `
			SELECT tx_hash, log_index FROM claim_events
			WHERE chain_id = ? AND block_number >= ? AND block_number <= ?
		`, chainID, sp.from, sp.to)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				txHash   string
				logIndex uint32
			)
			if err := rows.Scan(&txHash, &logIndex); err != nil {
				rows.Close()
				return nil, err
			}
			keys[eventKey{chainID, txHash, logIndex}] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// scanClaimEvents scans multiple rows.
func scanClaimEvents(rows chRows) ([]*domain.PublishedClaimEvent, error) {
	var events []*domain.PublishedClaimEvent

	for rows.Next() {
		var (
			e                              domain.PublishedClaimEvent
			txHash, blockHash, registry    string
			typeID, issuer, subject, scope string
			logIndex, txIndex              uint32
		)
		err := rows.Scan(
			&e.ChainID, &txHash, &logIndex, &txIndex, &e.BlockNumber, &blockHash, &registry,
			&typeID, &issuer, &subject, &e.Claim.Value, &scope, &e.Claim.Context,
			&e.Claim.Comment, &e.Claim.Link, &e.Claim.Activate, &e.Claim.Expire,
		)
		if err != nil {
			return nil, fmt.Errorf("scan claim event row: %w", err)
		}

		e.TxHash = common.HexToHash(txHash)
		e.BlockHash = common.HexToHash(blockHash)
		e.Registry = common.HexToAddress(registry)
		e.LogIndex = uint(logIndex)
		e.TxIndex = uint(txIndex)
		e.Claim.TypeID = domain.TypeID(typeID)
		e.Claim.Issuer = domain.IssuedBy(common.HexToAddress(issuer))
		e.Claim.Subject = common.HexToAddress(subject)
		e.Claim.Scope = domain.Scope(scope)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim event rows: %w", err)
	}

	return events, nil
}
