package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Fee is the payment attached to a publication.
// A zero Asset is the native token; a nil or zero Amount charges nothing.
type Fee struct {
	Asset  common.Address
	Amount *big.Int
}

// NoFee returns a native fee of zero.
func NoFee() Fee {
	return Fee{Amount: new(big.Int)}
}

// NativeFee returns a fee paid in the chain's native token.
func NativeFee(amount *big.Int) Fee {
	return Fee{Amount: amount}
}

// TokenFee returns a fee paid in the ERC-20 token at asset.
func TokenFee(asset common.Address, amount *big.Int) Fee {
	return Fee{Asset: asset, Amount: amount}
}

// IsNative reports whether the fee is paid in the native token.
func (f Fee) IsNative() bool {
	return f.Asset == (common.Address{})
}

// AmountOrZero never returns nil.
func (f Fee) AmountOrZero() *big.Int {
	if f.Amount == nil {
		return new(big.Int)
	}
	return f.Amount
}

// TxValue is the native value to attach to the transaction.
func (f Fee) TxValue() *big.Int {
	if !f.IsNative() {
		return new(big.Int)
	}
	return new(big.Int).Set(f.AmountOrZero())
}

// TxStatus is the execution status reported by the transaction receipt.
type TxStatus uint8

// Receipt statuses.
const (
	TxStatusFailed  TxStatus = 0
	TxStatusSuccess TxStatus = 1
)

func (s TxStatus) String() string {
	if s == TxStatusSuccess {
		return "success"
	}
	return "failed"
}

// Receipt is the confirmed outcome of one publication transaction.
type Receipt struct {
	ChainID     int64
	TxHash      common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	From        common.Address
	Status      TxStatus
	GasUsed     uint64
	Claims      int // number of claims carried by the transaction
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == TxStatusSuccess
}
