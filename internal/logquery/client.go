// Package logquery retrieves ClaimPublished events from the registry in ledger order.
package logquery

import (
	"context"
	"fmt"
	"iter"
	"log"
	"math"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/evm"
	"dtp-claims/internal/observability"
	"dtp-claims/internal/registry"
	"dtp-claims/internal/settings"
)

const opQuery = "query events"

// Resolver provides network settings per chain.
type Resolver interface {
	Resolve(chainID int64) settings.Network
}

// Range is an inclusive block range. A nil To means the latest block when
// iteration starts.
type Range struct {
	From uint64
	To   *uint64
}

// Options configures a Client.
type Options struct {
	Logger *log.Logger
	// PageSize overrides the network's LogPageSize when non-zero.
	PageSize uint64
}

// Client queries registry events page by page.
type Client struct {
	resolver Resolver
	conn     evm.Connector
	opts     Options
	logger   *log.Logger
}

// NewClient creates a Client.
func NewClient(resolver Resolver, conn evm.Connector, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{resolver: resolver, conn: conn, opts: opts, logger: logger}
}

// Events returns the events in r ordered by (block, tx index, log index).
// Nothing is fetched until the sequence is ranged over, and every range
// starts over from r.From. A failure is yielded once as the final element.
//
// Blocks are fetched in pages of the network's LogPageSize. When the
// provider refuses a page as too large, the page is halved and retried,
// down to a single block.
func (c *Client) Events(ctx context.Context, chainID int64, r Range) iter.Seq2[domain.PublishedClaimEvent, error] {
	return func(yield func(domain.PublishedClaimEvent, error) bool) {
		fail := func(err error) {
			yield(domain.PublishedClaimEvent{}, err)
		}

		net := c.resolver.Resolve(chainID)
		registryAddr, err := net.Registry()
		if err != nil {
			fail(err)
			return
		}
		rpc, err := c.conn.RPC(ctx, net)
		if err != nil {
			fail(err)
			return
		}

		var to uint64
		if r.To != nil {
			to = *r.To
		} else if to, err = rpc.BlockNumber(ctx); err != nil {
			fail(queryError(chainID, err))
			return
		}
		if r.From > to {
			return
		}

		pageSize := c.opts.PageSize
		if pageSize == 0 {
			pageSize = net.LogPageSize
		}
		if pageSize == 0 {
			pageSize = settings.DefaultLogPageSize
		}

		window := pageSize
		from := r.From
		for {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			end := to
			if to-from >= window {
				end = from + window - 1
			}

			logs, err := rpc.GetLogs(ctx, evm.LogFilter{
				FromBlock: from,
				ToBlock:   end,
				Addresses: []common.Address{registryAddr},
				Topics:    [][]common.Hash{{registry.ClaimPublishedTopic}},
			})
			if err != nil {
				if evm.IsLimitExceeded(err) && end > from {
					window = max((end-from+1)/2, 1)
					observability.RecordPageSplit(chainID)
					c.logger.Printf("chain %d: blocks %d-%d exceed the provider limit, retrying with %d blocks", chainID, from, end, window)
					continue
				}
				fail(queryError(chainID, err))
				return
			}

			page, err := decodePage(chainID, registryAddr, logs)
			if err != nil {
				fail(queryError(chainID, err))
				return
			}
			observability.RecordLogPage(chainID, len(page))

			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}

			if end >= to || end == math.MaxUint64 {
				return
			}
			from = end + 1
			window = min(window*2, pageSize)
		}
	}
}

// Query collects Events into a slice.
func (c *Client) Query(ctx context.Context, chainID int64, r Range) ([]domain.PublishedClaimEvent, error) {
	var out []domain.PublishedClaimEvent
	for e, err := range c.Events(ctx, chainID, r) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// decodePage turns raw logs into events sorted in ledger order. Removed logs
// and logs not emitted by the registry are skipped.
func decodePage(chainID int64, registryAddr common.Address, logs []evm.Log) ([]domain.PublishedClaimEvent, error) {
	page := make([]domain.PublishedClaimEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed || l.Address != registryAddr || len(l.Topics) == 0 || l.Topics[0] != registry.ClaimPublishedTopic {
			continue
		}
		claim, err := registry.DecodeClaimPublished(l.Topics, l.Data)
		if err != nil {
			return nil, fmt.Errorf("log %s#%d: %w", l.TxHash.Hex(), l.LogIndex, err)
		}
		page = append(page, domain.PublishedClaimEvent{
			ChainID:  chainID,
			Registry: l.Address,
			Claim:    claim,
			Provenance: domain.Provenance{
				BlockNumber: l.BlockNumber,
				BlockHash:   l.BlockHash,
				TxHash:      l.TxHash,
				TxIndex:     l.TxIndex,
				LogIndex:    l.LogIndex,
			},
		})
	}
	slices.SortStableFunc(page, func(a, b domain.PublishedClaimEvent) int {
		return domain.CompareEvents(&a, &b)
	})
	return page, nil
}

func queryError(chainID int64, err error) error {
	return domain.NewError(domain.KindQuery, opQuery, chainID, err)
}
