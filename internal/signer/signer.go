// Package signer submits transactions on behalf of an account.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dtp-claims/internal/evm"
)

// Signer signs and submits transactions from one account.
type Signer interface {
	// Address is the account transactions are sent from.
	Address() common.Address

	// Send submits args from Address and returns the transaction hash.
	Send(ctx context.Context, client evm.RPCClient, args evm.TxArgs) (common.Hash, error)
}

// NodeSigner lets the node sign with an account it manages (eth_sendTransaction).
type NodeSigner struct {
	addr common.Address
}

var _ Signer = NodeSigner{}

// NewNodeSigner creates a signer for a node-managed account.
func NewNodeSigner(addr common.Address) NodeSigner {
	return NodeSigner{addr: addr}
}

func (s NodeSigner) Address() common.Address {
	return s.addr
}

func (s NodeSigner) Send(ctx context.Context, client evm.RPCClient, args evm.TxArgs) (common.Hash, error) {
	args.From = s.addr
	return client.SendTransaction(ctx, args)
}

// FromAccounts returns a node signer for every account the node manages, in node order.
func FromAccounts(ctx context.Context, client evm.RPCClient) ([]Signer, error) {
	accounts, err := client.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	signers := make([]Signer, len(accounts))
	for i, a := range accounts {
		signers[i] = NewNodeSigner(a)
	}
	return signers, nil
}

// Addresses returns the account of every signer.
func Addresses(signers []Signer) []common.Address {
	out := make([]common.Address, len(signers))
	for i, s := range signers {
		out[i] = s.Address()
	}
	return out
}

// gasHeadroomPercent is added on top of the node's estimate.
const gasHeadroomPercent = 20

// KeySigner signs locally with a private key and submits raw transactions.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	addr    common.Address
	chainID *big.Int
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner creates a signer from a hex private key for chainID.
func NewKeySigner(hexKey string, chainID int64) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeySignerFromKey(key, chainID), nil
}

// NewKeySignerFromKey creates a signer from an already parsed key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey, chainID int64) *KeySigner {
	return &KeySigner{
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}
}

func (s *KeySigner) Address() common.Address {
	return s.addr
}

// Send fills nonce, gas and gas price from the node, signs, and submits.
// The nonce is the account's pending nonce, so callers must not run two
// Sends for the same key concurrently.
func (s *KeySigner) Send(ctx context.Context, client evm.RPCClient, args evm.TxArgs) (common.Hash, error) {
	args.From = s.addr

	nonce, err := client.PendingNonce(ctx, s.addr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice := args.GasPrice
	if gasPrice == nil {
		if gasPrice, err = client.GasPrice(ctx); err != nil {
			return common.Hash{}, fmt.Errorf("gas price: %w", err)
		}
	}

	gas := args.Gas
	if gas == 0 {
		estimate, err := client.EstimateGas(ctx, args)
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
		gas = estimate + estimate*gasHeadroomPercent/100
	}

	value := args.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode: %w", err)
	}
	return client.SendRawTransaction(ctx, raw)
}
