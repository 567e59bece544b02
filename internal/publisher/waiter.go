package publisher

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/evm"
)

// WaitConfig tunes confirmation waits.
type WaitConfig struct {
	// SubscriberSetupTimeout bounds the newHeads subscription attempt; on failure the wait polls only.
	SubscriberSetupTimeout time.Duration
	// PollInterval is the first delay between receipt checks.
	PollInterval time.Duration
	// PollBackoffMultiplier grows the delay after each miss.
	PollBackoffMultiplier float64
	// PollBackoffMaxInterval caps the delay.
	PollBackoffMaxInterval time.Duration
}

// DefaultWaitConfig returns the default confirmation wait settings.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		SubscriberSetupTimeout: 5 * time.Second,
		PollInterval:           500 * time.Millisecond,
		PollBackoffMultiplier:  1.5,
		PollBackoffMaxInterval: 5 * time.Second,
	}
}

func (c *WaitConfig) applyDefaults() {
	d := DefaultWaitConfig()
	if c.SubscriberSetupTimeout <= 0 {
		c.SubscriberSetupTimeout = d.SubscriberSetupTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollBackoffMultiplier < 1 {
		c.PollBackoffMultiplier = d.PollBackoffMultiplier
	}
	if c.PollBackoffMaxInterval <= 0 {
		c.PollBackoffMaxInterval = d.PollBackoffMaxInterval
	}
}

type exponentialBackoff struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
}

func (b exponentialBackoff) next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if b.max > 0 && base > float64(b.max) {
		base = float64(b.max)
	}
	if base > float64(math.MaxInt64) {
		base = float64(math.MaxInt64)
	}
	if base < float64(time.Millisecond) {
		return time.Millisecond
	}
	return time.Duration(base)
}

// waiter observes a transaction until it has enough confirming blocks.
// Receipts are polled with backoff; new heads, when subscribed, trigger an
// immediate check.
type waiter struct {
	cfg     WaitConfig
	backoff exponentialBackoff
	logger  *log.Logger
}

func newWaiter(cfg WaitConfig, logger *log.Logger) *waiter {
	cfg.applyDefaults()
	return &waiter{
		cfg: cfg,
		backoff: exponentialBackoff{
			initial:    cfg.PollInterval,
			multiplier: cfg.PollBackoffMultiplier,
			max:        cfg.PollBackoffMaxInterval,
		},
		logger: logger,
	}
}

// wait blocks until hash is mined with confirmations blocks (itself included)
// or ctx ends, in which case ctx.Err() is returned.
func (w *waiter) wait(ctx context.Context, rpc evm.RPCClient, ws evm.WSClient, hash common.Hash, confirmations uint64) (*evm.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}

	heads := w.subscribe(ctx, ws)
	if heads != nil {
		defer ws.Unsubscribe(context.Background(), heads)
	}

	attempt := 0
	for {
		receipt, err := rpc.TransactionReceipt(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Printf("receipt %s: %v", hash.Hex(), err)
		}
		if receipt != nil && w.confirmed(ctx, rpc, receipt, confirmations) {
			return receipt, nil
		}

		attempt++
		timer := time.NewTimer(w.backoff.next(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case _, ok := <-heads:
			timer.Stop()
			if !ok {
				heads = nil
			}
		case <-timer.C:
		}
	}
}

func (w *waiter) confirmed(ctx context.Context, rpc evm.RPCClient, r *evm.Receipt, confirmations uint64) bool {
	if confirmations <= 1 {
		return true
	}
	head, err := rpc.BlockNumber(ctx)
	if err != nil {
		return false
	}
	return head+1 >= r.BlockNumber+confirmations
}

func (w *waiter) subscribe(ctx context.Context, ws evm.WSClient) <-chan evm.Header {
	if ws == nil {
		return nil
	}
	setupCtx, cancel := context.WithTimeout(ctx, w.cfg.SubscriberSetupTimeout)
	defer cancel()

	heads, err := ws.SubscribeNewHeads(setupCtx)
	if err != nil {
		w.logger.Printf("newHeads subscription unavailable, polling only: %v", err)
		return nil
	}
	return heads
}
