package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RPCClient defines the Ethereum JSON-RPC HTTP interface used by the claims client.
type RPCClient interface {
	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (int64, error)

	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// Accounts returns the accounts managed by the node.
	Accounts(ctx context.Context) ([]common.Address, error)

	// GetLogs returns logs matching the filter.
	GetLogs(ctx context.Context, filter LogFilter) ([]Log, error)

	// TransactionReceipt returns the receipt for hash, or nil if not yet mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	// SendTransaction asks the node to sign and submit a transaction for args.From.
	SendTransaction(ctx context.Context, args TxArgs) (common.Hash, error)

	// SendRawTransaction submits an already signed transaction.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// PendingNonce returns the next nonce for account, counting pending transactions.
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)

	// EstimateGas estimates the gas needed by args.
	EstimateGas(ctx context.Context, args TxArgs) (uint64, error)

	// GasPrice returns the suggested legacy gas price.
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Log is a contract event log.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
	Removed     bool // dropped by a reorg
}

// Receipt is a mined transaction receipt.
type Receipt struct {
	TxHash      common.Hash
	TxIndex     uint
	BlockNumber uint64
	BlockHash   common.Hash
	From        common.Address
	To          *common.Address
	Status      uint64 // 1 success, 0 failure
	GasUsed     uint64
	Logs        []Log
}

// TxArgs describes a transaction to submit or estimate.
// Zero Gas and nil GasPrice leave the choice to the node.
type TxArgs struct {
	From     common.Address
	To       *common.Address
	Gas      uint64
	GasPrice *big.Int
	Value    *big.Int
	Data     []byte
}
