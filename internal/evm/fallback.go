package evm

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FallbackClient tries its clients in order. Only transport failures move on
// to the next client; errors returned by a node are final.
// Node-signed submissions always go to the first client.
type FallbackClient struct {
	clients []RPCClient
}

var _ RPCClient = (*FallbackClient)(nil)

// NewFallbackClient creates a client over the given endpoints, primary first.
func NewFallbackClient(clients ...RPCClient) *FallbackClient {
	return &FallbackClient{clients: clients}
}

func failover[T any](ctx context.Context, clients []RPCClient, call func(RPCClient) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for _, c := range clients {
		v, err := call(c)
		if err == nil {
			return v, nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || ctx.Err() != nil {
			return zero, err
		}
		errs = append(errs, err)
	}
	return zero, errors.Join(errs...)
}

func (f *FallbackClient) ChainID(ctx context.Context) (int64, error) {
	return failover(ctx, f.clients, func(c RPCClient) (int64, error) { return c.ChainID(ctx) })
}

func (f *FallbackClient) BlockNumber(ctx context.Context) (uint64, error) {
	return failover(ctx, f.clients, func(c RPCClient) (uint64, error) { return c.BlockNumber(ctx) })
}

func (f *FallbackClient) Accounts(ctx context.Context) ([]common.Address, error) {
	return f.clients[0].Accounts(ctx)
}

func (f *FallbackClient) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	return failover(ctx, f.clients, func(c RPCClient) ([]Log, error) { return c.GetLogs(ctx, filter) })
}

func (f *FallbackClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	return failover(ctx, f.clients, func(c RPCClient) (*Receipt, error) { return c.TransactionReceipt(ctx, hash) })
}

func (f *FallbackClient) SendTransaction(ctx context.Context, args TxArgs) (common.Hash, error) {
	return f.clients[0].SendTransaction(ctx, args)
}

// SendRawTransaction fails over: resending the same signed bytes cannot publish twice.
func (f *FallbackClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	return failover(ctx, f.clients, func(c RPCClient) (common.Hash, error) { return c.SendRawTransaction(ctx, raw) })
}

func (f *FallbackClient) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return failover(ctx, f.clients, func(c RPCClient) (uint64, error) { return c.PendingNonce(ctx, account) })
}

func (f *FallbackClient) EstimateGas(ctx context.Context, args TxArgs) (uint64, error) {
	return failover(ctx, f.clients, func(c RPCClient) (uint64, error) { return c.EstimateGas(ctx, args) })
}

func (f *FallbackClient) GasPrice(ctx context.Context) (*big.Int, error) {
	return failover(ctx, f.clients, func(c RPCClient) (*big.Int, error) { return c.GasPrice(ctx) })
}
