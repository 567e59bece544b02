package evm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/settings"
)

var (
	errNoRPCURL = errors.New("no rpc url configured")
	errNoWSURL  = errors.New("no websocket url configured")
)

// Connector hands out chain connections for resolved network settings.
type Connector interface {
	// RPC returns a JSON-RPC client for the network.
	RPC(ctx context.Context, net settings.Network) (RPCClient, error)

	// WS returns a subscription client for the network.
	// Networks without a websocket URL return a configuration error.
	WS(ctx context.Context, net settings.Network) (WSClient, error)
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	ClientOptions []ClientOption
	WSConfig      *WSClientConfig
	Logger        *log.Logger
}

// Pool dials and caches one RPC client and one websocket client per chain.
type Pool struct {
	opts   PoolOptions
	logger *log.Logger

	mu  sync.Mutex
	rpc map[int64]RPCClient
	ws  map[int64]*HeadSubscriber
}

var _ Connector = (*Pool)(nil)

// NewPool creates an empty pool.
func NewPool(opts PoolOptions) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		opts:   opts,
		logger: logger,
		rpc:    make(map[int64]RPCClient),
		ws:     make(map[int64]*HeadSubscriber),
	}
}

// RPC returns the cached client for the chain, creating it on first use.
// With fallback URLs configured the client fails over between endpoints.
func (p *Pool) RPC(_ context.Context, net settings.Network) (RPCClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.rpc[net.ChainID]; ok {
		return c, nil
	}

	endpoints := net.Endpoints()
	if len(endpoints) == 0 {
		return nil, domain.NewError(domain.KindConfiguration, "dial rpc", net.ChainID, errNoRPCURL)
	}

	clients := make([]RPCClient, len(endpoints))
	for i, url := range endpoints {
		clients[i] = NewHTTPClient(url, p.opts.ClientOptions...)
	}

	var c RPCClient = clients[0]
	if len(clients) > 1 {
		c = NewFallbackClient(clients...)
	}
	p.rpc[net.ChainID] = c
	return c, nil
}

// WS returns the cached websocket client for the chain, dialing on first use.
func (p *Pool) WS(ctx context.Context, net settings.Network) (WSClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.ws[net.ChainID]; ok {
		return c, nil
	}
	if net.WSURL == "" {
		return nil, domain.NewError(domain.KindConfiguration, "dial websocket", net.ChainID, errNoWSURL)
	}

	cfg := DefaultWSConfig()
	if p.opts.WSConfig != nil {
		cfg = *p.opts.WSConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = p.logger
	}

	c, err := NewWSClient(ctx, net.WSURL, &cfg)
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", net.ChainID, err)
	}
	p.ws[net.ChainID] = c
	return c, nil
}

// Close closes every websocket client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, c := range p.ws {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("chain %d: %w", id, err))
		}
		delete(p.ws, id)
	}
	return errors.Join(errs...)
}
