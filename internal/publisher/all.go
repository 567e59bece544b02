package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/signer"
)

// BatchResult is the outcome of one batch in PublishAll.
type BatchResult struct {
	IssuerKey int
	Issuer    common.Address // zero when IssuerKey did not resolve
	Receipt   *domain.Receipt
	Err       error
}

// PublishAll publishes batches with signers[batch.IssuerKey()]. Issuers run
// concurrently up to Options.Concurrency; batches of one issuer run in input
// order. Results are positional. The error joins every batch failure.
func (c *Client) PublishAll(ctx context.Context, chainID int64, batches []*domain.ClaimBatch, signers []signer.Signer, fee domain.Fee) ([]BatchResult, error) {
	results := make([]BatchResult, len(batches))

	var (
		order  []int
		groups = make(map[int][]int)
	)
	for i, b := range batches {
		key := b.IssuerKey()
		results[i].IssuerKey = key
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for _, key := range order {
		positions := groups[key]
		if key < 0 || key >= len(signers) {
			for _, i := range positions {
				results[i].Err = &domain.Error{
					Kind:    domain.KindResolution,
					Op:      opPublishBatch,
					ChainID: chainID,
					Field:   "issuer",
					Index:   i,
					Err:     fmt.Errorf("issuer index %d out of range [0,%d)", key, len(signers)),
				}
			}
			continue
		}

		s := signers[key]
		g.Go(func() error {
			for _, i := range positions {
				results[i].Issuer = s.Address()
				results[i].Receipt, results[i].Err = c.PublishBatch(ctx, chainID, s, batches[i], fee)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// Reconcile re-queries every journaled submission of chainID whose outcome
// is unknown and records the ones that have since been mined. It returns the
// submissions that are still unresolved. Nothing is resubmitted.
func (c *Client) Reconcile(ctx context.Context, chainID int64) ([]*domain.Submission, error) {
	if c.opts.Journal == nil {
		return nil, errors.New("reconcile: no submission journal configured")
	}

	net := c.resolver.Resolve(chainID)
	rpc, err := c.conn.RPC(ctx, net)
	if err != nil {
		return nil, err
	}

	pending, err := c.opts.Journal.GetUnresolved(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load journal: %w", err)
	}

	var open []*domain.Submission
	for _, s := range pending {
		r, err := rpc.TransactionReceipt(ctx, s.TxHash)
		if err != nil {
			return nil, &domain.Error{Kind: domain.KindQuery, Op: "reconcile", ChainID: chainID, Index: -1, TxHash: s.TxHash.Hex(), Err: err}
		}
		if r == nil {
			open = append(open, s)
			continue
		}

		s.Status = domain.SubmissionReverted
		if r.Status == 1 {
			s.Status = domain.SubmissionConfirmed
		}
		s.BlockNumber = r.BlockNumber
		s.UpdatedAt = time.Now().UnixMilli()
		if err := c.opts.Journal.Upsert(ctx, s); err != nil {
			return nil, fmt.Errorf("reconcile: update tx %s: %w", s.TxHash.Hex(), err)
		}
		c.logger.Printf("chain %d: tx %s resolved as %s in block %d", chainID, s.TxHash.Hex(), s.Status, s.BlockNumber)
	}
	return open, nil
}
