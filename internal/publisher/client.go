// Package publisher submits claims to the registry and waits for confirmation.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/evm"
	"dtp-claims/internal/observability"
	"dtp-claims/internal/registry"
	"dtp-claims/internal/settings"
	"dtp-claims/internal/signer"
	"dtp-claims/internal/storage"
)

const (
	opPublish      = "publish"
	opPublishBatch = "publish batch"
)

var errEmptyBatch = errors.New("batch has no claims")

// Resolver provides network settings per chain.
type Resolver interface {
	Resolve(chainID int64) settings.Network
}

// Options configures a Client.
type Options struct {
	Logger *log.Logger

	// Journal, when set, records every accepted transaction and its outcome.
	Journal storage.SubmissionStore
	// RunID tags journal entries written by this client.
	RunID string

	Wait WaitConfig
	// ConfirmTimeout bounds each confirmation wait on top of the caller's context. Zero disables.
	ConfirmTimeout time.Duration
	// Concurrency limits how many issuers PublishAll serves at once. Default 4.
	Concurrency int
}

// Client publishes claims. Submissions from one account on one chain go
// through a single mailbox, so each account has at most one unconfirmed
// transaction at a time. Different accounts proceed concurrently.
type Client struct {
	resolver Resolver
	conn     evm.Connector
	opts     Options
	logger   *log.Logger
	waiter   *waiter

	mu        sync.Mutex
	mailboxes map[mailboxKey]*mailbox
}

type mailboxKey struct {
	chainID int64
	account common.Address
}

// NewClient creates a Client.
func NewClient(resolver Resolver, conn evm.Connector, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Client{
		resolver:  resolver,
		conn:      conn,
		opts:      opts,
		logger:    logger,
		waiter:    newWaiter(opts.Wait, logger),
		mailboxes: make(map[mailboxKey]*mailbox),
	}
}

// Publish submits one claim as one publishClaim transaction and waits for it to confirm.
// A transaction that confirms but reverts is returned with a failed status and no error.
func (c *Client) Publish(ctx context.Context, chainID int64, s signer.Signer, claim domain.Claim, fee domain.Fee) (*domain.Receipt, error) {
	return c.publish(ctx, opPublish, chainID, s, []domain.Claim{claim}, fee)
}

// PublishBatch submits the whole batch, in order, as one publishClaims transaction.
func (c *Client) PublishBatch(ctx context.Context, chainID int64, s signer.Signer, batch *domain.ClaimBatch, fee domain.Fee) (*domain.Receipt, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, &domain.Error{Kind: domain.KindValidation, Op: opPublishBatch, ChainID: chainID, Index: -1, Err: errEmptyBatch}
	}
	return c.publish(ctx, opPublishBatch, chainID, s, batch.Claims(), fee)
}

type outcome struct {
	receipt *domain.Receipt
	err     error
}

func (c *Client) publish(ctx context.Context, op string, chainID int64, s signer.Signer, claims []domain.Claim, fee domain.Fee) (*domain.Receipt, error) {
	net := c.resolver.Resolve(chainID)
	registryAddr, err := net.Registry()
	if err != nil {
		c.recordError(chainID, err)
		return nil, err
	}

	for i, claim := range claims {
		if err := claim.Validate(); err != nil {
			var e *domain.Error
			if errors.As(err, &e) {
				e.Op = op
				e.ChainID = chainID
				if op == opPublishBatch {
					e.Index = i
				}
			}
			c.recordError(chainID, err)
			return nil, err
		}
	}

	var data []byte
	if op == opPublish {
		data, err = registry.PackPublishClaim(claims[0], fee)
	} else {
		data, err = registry.PackPublishClaims(claims, fee)
	}
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindValidation, Op: op, ChainID: chainID, Index: -1, Err: err}
	}

	rpc, err := c.conn.RPC(ctx, net)
	if err != nil {
		c.recordError(chainID, err)
		return nil, err
	}

	sub := submission{
		op:       op,
		net:      net,
		rpc:      rpc,
		signer:   s,
		claims:   len(claims),
		fee:      fee,
		registry: registryAddr,
		data:     data,
	}

	var (
		state jobState
		done  = make(chan outcome, 1)
	)
	observability.AddMailboxDepth(chainID, 1)
	c.mailboxFor(chainID, s.Address()).post(func() {
		if !state.start() {
			return
		}
		observability.AddMailboxDepth(chainID, -1)
		r, err := c.submitAndWait(ctx, sub)
		done <- outcome{receipt: r, err: err}
	})

	select {
	case out := <-done:
		return out.receipt, out.err
	case <-ctx.Done():
		if state.abandon() {
			// Never submitted.
			observability.AddMailboxDepth(chainID, -1)
			err := &domain.Error{
				Kind:    domain.KindSubmission,
				Op:      op,
				ChainID: chainID,
				Index:   -1,
				Err:     fmt.Errorf("cancelled before submission: %w", ctx.Err()),
			}
			c.recordError(chainID, err)
			return nil, err
		}
		// Already submitting; the job observes the same context and reports the hash.
		out := <-done
		return out.receipt, out.err
	}
}

// submission is one transaction to send from a mailbox.
type submission struct {
	op       string
	net      settings.Network
	rpc      evm.RPCClient
	signer   signer.Signer
	claims   int
	fee      domain.Fee
	registry common.Address
	data     []byte
}

func (c *Client) submitAndWait(ctx context.Context, sub submission) (*domain.Receipt, error) {
	chainID := sub.net.ChainID
	from := sub.signer.Address()

	to := sub.registry
	hash, err := sub.signer.Send(ctx, sub.rpc, evm.TxArgs{
		From:  from,
		To:    &to,
		Value: sub.fee.TxValue(),
		Data:  sub.data,
	})
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("cancelled during send: %w", ctx.Err())
		}
		derr := &domain.Error{Kind: domain.KindSubmission, Op: sub.op, ChainID: chainID, Index: -1, Err: err}
		c.recordError(chainID, derr)
		return nil, derr
	}

	submittedAt := time.Now()
	c.logger.Printf("chain %d: %s tx %s from %s carrying %d claim(s)", chainID, sub.op, hash.Hex(), from.Hex(), sub.claims)
	c.journal(ctx, &domain.Submission{
		RunID:       c.opts.RunID,
		ChainID:     chainID,
		TxHash:      hash,
		From:        from,
		ClaimCount:  sub.claims,
		Status:      domain.SubmissionPending,
		SubmittedAt: submittedAt.UnixMilli(),
		UpdatedAt:   submittedAt.UnixMilli(),
	})

	waitCtx := ctx
	if c.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.ConfirmTimeout)
		defer cancel()
	}

	receipt, err := c.waiter.wait(waitCtx, sub.rpc, c.heads(ctx, sub.net), hash, sub.net.Confirmations)
	if err != nil {
		status := domain.SubmissionCancelled
		if errors.Is(err, context.DeadlineExceeded) {
			status = domain.SubmissionTimedOut
			err = &domain.Error{Kind: domain.KindConfirmationTimeout, Op: sub.op, ChainID: chainID, Index: -1, TxHash: hash.Hex(), Err: err}
		} else {
			err = &domain.Error{Kind: domain.KindSubmission, Op: sub.op, ChainID: chainID, Index: -1, TxHash: hash.Hex(), Err: fmt.Errorf("waiting for receipt: %w", err)}
		}
		c.journal(context.WithoutCancel(ctx), &domain.Submission{
			ChainID:   chainID,
			TxHash:    hash,
			From:      from,
			Status:    status,
			UpdatedAt: time.Now().UnixMilli(),
		})
		c.recordError(chainID, err)
		return nil, err
	}

	out := &domain.Receipt{
		ChainID:     chainID,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		BlockHash:   receipt.BlockHash,
		From:        from,
		Status:      domain.TxStatusFailed,
		GasUsed:     receipt.GasUsed,
		Claims:      sub.claims,
	}
	status := domain.SubmissionReverted
	if receipt.Status == 1 {
		out.Status = domain.TxStatusSuccess
		status = domain.SubmissionConfirmed
	} else {
		c.logger.Printf("chain %d: tx %s reverted in block %d", chainID, hash.Hex(), receipt.BlockNumber)
	}

	c.journal(ctx, &domain.Submission{
		ChainID:     chainID,
		TxHash:      hash,
		From:        from,
		Status:      status,
		BlockNumber: receipt.BlockNumber,
		UpdatedAt:   time.Now().UnixMilli(),
	})
	observability.RecordSubmission(chainID, sub.claims, string(status), time.Since(submittedAt).Seconds())
	return out, nil
}

// heads returns the chain's websocket client, or nil to poll only.
func (c *Client) heads(ctx context.Context, net settings.Network) evm.WSClient {
	if net.WSURL == "" {
		return nil
	}
	ws, err := c.conn.WS(ctx, net)
	if err != nil {
		c.logger.Printf("chain %d: websocket unavailable, polling receipts: %v", net.ChainID, err)
		return nil
	}
	return ws
}

func (c *Client) mailboxFor(chainID int64, account common.Address) *mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := mailboxKey{chainID: chainID, account: account}
	m, ok := c.mailboxes[key]
	if !ok {
		m = &mailbox{}
		c.mailboxes[key] = m
	}
	return m
}

// journal writes s when a journal is configured. Failures are logged only:
// the transaction outcome stands regardless of bookkeeping.
func (c *Client) journal(ctx context.Context, s *domain.Submission) {
	if c.opts.Journal == nil {
		return
	}
	if s.RunID == "" {
		s.RunID = c.opts.RunID
	}
	if err := c.opts.Journal.Upsert(ctx, s); err != nil {
		c.logger.Printf("journal tx %s: %v", s.TxHash.Hex(), err)
	}
}

func (c *Client) recordError(chainID int64, err error) {
	kind, ok := domain.KindOf(err)
	switch {
	case errors.Is(err, context.Canceled):
		observability.RecordPublishError(chainID, "cancelled")
	case ok:
		observability.RecordPublishError(chainID, string(kind))
	default:
		observability.RecordPublishError(chainID, "other")
	}
}
