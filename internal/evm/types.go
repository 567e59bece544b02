package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LogFilter selects logs for eth_getLogs. Both block bounds are inclusive.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Header is a chain head delivered by a newHeads subscription.
type Header struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Time       uint64
}

// Wire representations.

type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	TxHash      common.Hash    `json:"transactionHash"`
	TxIndex     hexutil.Uint   `json:"transactionIndex"`
	LogIndex    hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

func (l rpcLog) toLog() Log {
	return Log{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: uint64(l.BlockNumber),
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		TxIndex:     uint(l.TxIndex),
		LogIndex:    uint(l.LogIndex),
		Removed:     l.Removed,
	}
}

type rpcReceipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	TxIndex     hexutil.Uint    `json:"transactionIndex"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	BlockHash   common.Hash     `json:"blockHash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Status      hexutil.Uint64  `json:"status"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	Logs        []rpcLog        `json:"logs"`
}

type rpcFilter struct {
	FromBlock hexutil.Uint64   `json:"fromBlock"`
	ToBlock   hexutil.Uint64   `json:"toBlock"`
	Address   []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

type rpcTxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

func toRPCTxArgs(args TxArgs) rpcTxArgs {
	out := rpcTxArgs{
		From: args.From,
		To:   args.To,
		Data: args.Data,
	}
	if args.Gas > 0 {
		gas := hexutil.Uint64(args.Gas)
		out.Gas = &gas
	}
	if args.GasPrice != nil {
		out.GasPrice = (*hexutil.Big)(args.GasPrice)
	}
	if args.Value != nil {
		out.Value = (*hexutil.Big)(args.Value)
	}
	return out
}

type rpcHeader struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Time       hexutil.Uint64 `json:"timestamp"`
}
