// Package indexer copies registry ClaimPublished events into storage and
// keeps them current as new blocks arrive.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/evm"
	"dtp-claims/internal/logquery"
	"dtp-claims/internal/observability"
	"dtp-claims/internal/storage"
)

// Sink is a named event store the syncer writes to.
type Sink struct {
	Name  string
	Store storage.ClaimEventStore
}

// Options contains configuration for creating a Syncer.
type Options struct {
	Sinks    []Sink
	Progress storage.SyncProgressStore

	StartBlock   uint64        // first block to index when no checkpoint exists
	ChunkBlocks  uint64        // Default: 10000 - blocks per checkpoint
	BatchSize    int           // Default: 500 - events per InsertBulk
	PollInterval time.Duration // Default: 5s - head polling when no websocket is configured
	PageSize     uint64        // passed to the log query client; zero uses the network setting
	Logger       *log.Logger
}

// Syncer backfills registry events from a checkpoint and then follows the chain head.
type Syncer struct {
	resolver logquery.Resolver
	conn     evm.Connector
	query    *logquery.Client

	sinks        []Sink
	progress     storage.SyncProgressStore
	startBlock   uint64
	chunkBlocks  uint64
	batchSize    int
	pollInterval time.Duration
	logger       *log.Logger
}

// NewSyncer creates a new syncer.
func NewSyncer(resolver logquery.Resolver, conn evm.Connector, opts Options) *Syncer {
	chunkBlocks := opts.ChunkBlocks
	if chunkBlocks == 0 {
		chunkBlocks = 10000
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Syncer{
		resolver:     resolver,
		conn:         conn,
		query:        logquery.NewClient(resolver, conn, logquery.Options{Logger: logger, PageSize: opts.PageSize}),
		sinks:        opts.Sinks,
		progress:     opts.Progress,
		startBlock:   opts.StartBlock,
		chunkBlocks:  chunkBlocks,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// SyncResult contains statistics from a sync operation.
type SyncResult struct {
	FromBlock         uint64
	ToBlock           uint64
	EventsFetched     int
	EventsStored      int
	DuplicatesSkipped int
	Duration          time.Duration
}

func (r *SyncResult) add(o *SyncResult) {
	r.EventsFetched += o.EventsFetched
	r.EventsStored += o.EventsStored
	r.DuplicatesSkipped += o.DuplicatesSkipped
}

// SyncRange fetches events in [from, to] and writes them to every sink.
// It does not touch the checkpoint.
func (s *Syncer) SyncRange(ctx context.Context, chainID int64, from, to uint64) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{FromBlock: from, ToBlock: to}

	batch := make([]*domain.PublishedClaimEvent, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stored, dupes, err := s.store(ctx, batch)
		result.EventsStored += stored
		result.DuplicatesSkipped += dupes
		batch = batch[:0]
		return err
	}

	for e, err := range s.query.Events(ctx, chainID, logquery.Range{From: from, To: &to}) {
		if err != nil {
			return result, err
		}
		result.EventsFetched++
		batch = append(batch, &e)
		if len(batch) == s.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

// SyncOnce indexes every confirmed block after the checkpoint, saving the
// checkpoint after each chunk. A checkpoint written for a different registry
// address is discarded and indexing restarts at StartBlock.
func (s *Syncer) SyncOnce(ctx context.Context, chainID int64) (*SyncResult, error) {
	start := time.Now()

	net := s.resolver.Resolve(chainID)
	registryAddr, err := net.Registry()
	if err != nil {
		return nil, err
	}
	rpc, err := s.conn.RPC(ctx, net)
	if err != nil {
		return nil, err
	}

	next := s.startBlock
	if s.progress != nil {
		p, err := s.progress.GetLastSynced(ctx, chainID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load checkpoint: %w", err)
		case p.Registry != registryAddr:
			s.logger.Printf("chain %d: checkpoint belongs to registry %s, reindexing %s from block %d",
				chainID, p.Registry.Hex(), registryAddr.Hex(), s.startBlock)
		default:
			next = p.BlockNumber + 1
		}
	}

	head, err := rpc.BlockNumber(ctx)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindQuery, Op: "sync", ChainID: chainID, Index: -1, Err: err}
	}
	observability.UpdateHighestBlock(chainID, head)

	// Only blocks with enough confirmations are indexed.
	if lag := net.Confirmations; lag > 1 {
		if head < lag-1 {
			return &SyncResult{FromBlock: next}, nil
		}
		head -= lag - 1
	}

	result := &SyncResult{FromBlock: next, ToBlock: head}
	if next > head {
		return result, nil
	}

	for from := next; from <= head; {
		to := head
		if head-from >= s.chunkBlocks {
			to = from + s.chunkBlocks - 1
		}

		chunk, err := s.SyncRange(ctx, chainID, from, to)
		if chunk != nil {
			result.add(chunk)
		}
		if err != nil {
			return result, fmt.Errorf("sync blocks %d-%d: %w", from, to, err)
		}

		if s.progress != nil {
			err := s.progress.SetLastSynced(ctx, &storage.SyncProgress{
				ChainID:     chainID,
				Registry:    registryAddr,
				BlockNumber: to,
				UpdatedAt:   time.Now().UnixMilli(),
			})
			if err != nil {
				return result, fmt.Errorf("save checkpoint: %w", err)
			}
		}
		s.logger.Printf("chain %d: indexed blocks %d-%d (%d events, %d duplicates)",
			chainID, from, to, chunk.EventsFetched, chunk.DuplicatesSkipped)

		if to == head {
			break
		}
		from = to + 1
	}

	result.Duration = time.Since(start)
	observability.RecordSyncSuccess(time.Now().Unix())
	return result, nil
}

// Run syncs chainID and keeps following new blocks until ctx is cancelled.
// New heads arrive over the network's websocket when one is configured;
// otherwise the head is polled. Transient failures are logged and retried on
// the next head. Configuration errors end the run.
func (s *Syncer) Run(ctx context.Context, chainID int64) error {
	s.logger.Printf("chain %d: starting indexer", chainID)

	if err := s.syncLogged(ctx, chainID); err != nil {
		return err
	}

	heads, stop := s.subscribe(ctx, chainID)
	defer stop()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("chain %d: indexer stopping", chainID)
			return ctx.Err()
		case _, ok := <-heads:
			if !ok {
				s.logger.Printf("chain %d: head subscription closed, polling every %v", chainID, s.pollInterval)
				heads = nil
				continue
			}
		case <-ticker.C:
		}

		if err := s.syncLogged(ctx, chainID); err != nil {
			return err
		}
	}
}

// syncLogged runs SyncOnce and returns only errors that should stop Run.
func (s *Syncer) syncLogged(ctx context.Context, chainID int64) error {
	_, err := s.SyncOnce(ctx, chainID)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, domain.ErrConfiguration):
		return err
	default:
		s.logger.Printf("chain %d: sync failed, retrying: %v", chainID, err)
		return nil
	}
}

// subscribe returns a newHeads channel, or nil when the network has no
// websocket endpoint or the subscription fails.
func (s *Syncer) subscribe(ctx context.Context, chainID int64) (<-chan evm.Header, func()) {
	net := s.resolver.Resolve(chainID)
	if net.WSURL == "" {
		return nil, func() {}
	}
	ws, err := s.conn.WS(ctx, net)
	if err != nil {
		s.logger.Printf("chain %d: websocket unavailable, polling every %v: %v", chainID, s.pollInterval, err)
		return nil, func() {}
	}
	ch, err := ws.SubscribeNewHeads(ctx)
	if err != nil {
		s.logger.Printf("chain %d: subscribe newHeads failed, polling every %v: %v", chainID, s.pollInterval, err)
		return nil, func() {}
	}
	return ch, func() {
		_ = ws.Unsubscribe(context.WithoutCancel(ctx), ch)
	}
}

// store writes events to every sink concurrently. Stored and duplicate
// counts are taken from the first sink.
func (s *Syncer) store(ctx context.Context, events []*domain.PublishedClaimEvent) (stored, dupes int, err error) {
	counts := make([][2]int, len(s.sinks))

	g, gctx := errgroup.WithContext(ctx)
	for i, sink := range s.sinks {
		g.Go(func() error {
			st, du, err := s.storeSink(gctx, sink, events)
			counts[i] = [2]int{st, du}
			observability.RecordEventsStored(sink.Name, st)
			if err != nil {
				return fmt.Errorf("sink %s: %w", sink.Name, err)
			}
			return nil
		})
	}
	err = g.Wait()

	if len(counts) > 0 {
		stored, dupes = counts[0][0], counts[0][1]
	}
	return stored, dupes, err
}

// storeSink inserts events in one call, falling back to one-by-one inserts
// to skip events the sink already holds.
func (s *Syncer) storeSink(ctx context.Context, sink Sink, events []*domain.PublishedClaimEvent) (stored, dupes int, err error) {
	err = sink.Store.InsertBulk(ctx, events)
	if err == nil {
		return len(events), 0, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return 0, 0, err
	}

	for _, e := range events {
		if err := sink.Store.Insert(ctx, e); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				dupes++
				continue
			}
			return stored, dupes, err
		}
		stored++
	}
	return stored, dupes, nil
}
