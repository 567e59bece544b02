// Package stub provides an in-memory chain hosting a claims registry for tests.
package stub

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/evm"
	"dtp-claims/internal/registry"
	"dtp-claims/internal/settings"
)

const (
	errCodeServer      = -32000
	errCodeLimit       = -32005
	baseGas            = 21000
	genesisTime        = 1700000000
	defaultGasPriceWei = 1_000_000_000
)

type pendingTx struct {
	hash  common.Hash
	from  common.Address
	to    *common.Address
	value *big.Int
	data  []byte
}

type block struct {
	header evm.Header
	txs    []common.Hash
}

// Chain is an automining in-memory chain. Transactions sent to the registry
// address emit one ClaimPublished log per claim, with the signer issuer
// resolved to the sender.
type Chain struct {
	mu       sync.Mutex
	chainID  int64
	registry common.Address
	accounts []common.Address

	automine  bool
	mineDelay time.Duration

	nonces   map[common.Address]uint64
	pending  []pendingTx
	inFlight map[common.Address]int
	peak     map[common.Address]int

	blocks   []block
	receipts map[common.Hash]*evm.Receipt
	logs     []evm.Log
	subs     map[chan evm.Header]struct{}

	maxLogResults int
	failNext      error
	getLogsCalls  int
}

var (
	_ evm.RPCClient = (*Chain)(nil)
	_ evm.WSClient  = (*Chain)(nil)
	_ evm.Connector = (*Chain)(nil)
)

// NewChain creates a chain with a genesis block and the given node-managed accounts.
func NewChain(chainID int64, registryAddr common.Address, accounts ...common.Address) *Chain {
	c := &Chain{
		chainID:  chainID,
		registry: registryAddr,
		accounts: append([]common.Address{}, accounts...),
		automine: true,
		nonces:   make(map[common.Address]uint64),
		inFlight: make(map[common.Address]int),
		peak:     make(map[common.Address]int),
		receipts: make(map[common.Hash]*evm.Receipt),
		subs:     make(map[chan evm.Header]struct{}),
	}
	c.blocks = append(c.blocks, block{header: evm.Header{Number: 0, Hash: blockHash(0, common.Hash{}), Time: genesisTime}})
	return c
}

// SetAutomine toggles mining each transaction into its own block on arrival.
func (c *Chain) SetAutomine(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.automine = on
}

// SetMineDelay makes automining happen d after a transaction arrives.
func (c *Chain) SetMineDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineDelay = d
}

// SetMaxLogResults makes GetLogs fail with a limit error when more than n logs match. Zero disables.
func (c *Chain) SetMaxLogResults(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxLogResults = n
}

// FailNextSend makes the next submission fail with an RPC error carrying msg.
func (c *Chain) FailNextSend(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = &evm.RPCError{Code: errCodeServer, Message: msg}
}

// Mine mines all pending transactions into one block, or an empty block.
func (c *Chain) Mine() evm.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineLocked()
}

// PeakInFlight returns the most transactions from account that were pending at once.
func (c *Chain) PeakInFlight(account common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak[account]
}

// GetLogsCalls returns how many eth_getLogs requests were served.
func (c *Chain) GetLogsCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLogsCalls
}

// Head returns the latest block header.
func (c *Chain) Head() evm.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1].header
}

// RPC returns the chain itself.
func (c *Chain) RPC(context.Context, settings.Network) (evm.RPCClient, error) {
	return c, nil
}

// WS returns the chain itself.
func (c *Chain) WS(context.Context, settings.Network) (evm.WSClient, error) {
	return c, nil
}

func (c *Chain) ChainID(context.Context) (int64, error) {
	return c.chainID, nil
}

func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	return c.Head().Number, nil
}

func (c *Chain) Accounts(context.Context) ([]common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]common.Address{}, c.accounts...), nil
}

func (c *Chain) GetLogs(_ context.Context, filter evm.LogFilter) ([]evm.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getLogsCalls++

	if filter.FromBlock > filter.ToBlock {
		return nil, &evm.RPCError{Code: errCodeServer, Message: "invalid block range"}
	}

	var out []evm.Log
	for _, l := range c.logs {
		if l.BlockNumber < filter.FromBlock || l.BlockNumber > filter.ToBlock {
			continue
		}
		if !matchAddress(filter.Addresses, l.Address) || !matchTopics(filter.Topics, l.Topics) {
			continue
		}
		out = append(out, copyLog(l))
	}

	if c.maxLogResults > 0 && len(out) > c.maxLogResults {
		return nil, &evm.RPCError{
			Code:    errCodeLimit,
			Message: fmt.Sprintf("query returned more than %d results", c.maxLogResults),
		}
	}
	return out, nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*evm.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[hash]
	if !ok {
		return nil, nil
	}
	cp := *r
	cp.Logs = make([]evm.Log, len(r.Logs))
	for i, l := range r.Logs {
		cp.Logs[i] = copyLog(l)
	}
	return &cp, nil
}

func (c *Chain) SendTransaction(_ context.Context, args evm.TxArgs) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure(); err != nil {
		return common.Hash{}, err
	}
	if !c.managed(args.From) {
		return common.Hash{}, &evm.RPCError{Code: errCodeServer, Message: "unknown account " + args.From.Hex()}
	}

	nonce := c.nonces[args.From]
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	hash := crypto.Keccak256Hash(args.From.Bytes(), buf[:], args.Data)

	c.acceptLocked(pendingTx{hash: hash, from: args.From, to: args.To, value: args.Value, data: args.Data})
	return hash, nil
}

func (c *Chain) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure(); err != nil {
		return common.Hash{}, err
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, &evm.RPCError{Code: errCodeServer, Message: "rlp: " + err.Error()}
	}
	if tx.ChainId().Int64() != c.chainID {
		return common.Hash{}, &evm.RPCError{Code: errCodeServer, Message: "invalid chain id for signer"}
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(c.chainID)), tx)
	if err != nil {
		return common.Hash{}, &evm.RPCError{Code: errCodeServer, Message: "invalid sender: " + err.Error()}
	}

	want := c.nonces[from]
	switch {
	case tx.Nonce() < want:
		return common.Hash{}, &evm.RPCError{Code: errCodeServer, Message: "nonce too low"}
	case tx.Nonce() > want:
		return common.Hash{}, &evm.RPCError{Code: errCodeServer, Message: "nonce too high"}
	}

	c.acceptLocked(pendingTx{hash: tx.Hash(), from: from, to: tx.To(), value: tx.Value(), data: tx.Data()})
	return tx.Hash(), nil
}

func (c *Chain) PendingNonce(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Chain) EstimateGas(_ context.Context, args evm.TxArgs) (uint64, error) {
	return baseGas + 16*uint64(len(args.Data)), nil
}

func (c *Chain) GasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(defaultGasPriceWei), nil
}

// SubscribeNewHeads delivers every block mined after the call.
func (c *Chain) SubscribeNewHeads(context.Context) (<-chan evm.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan evm.Header, 64)
	c.subs[ch] = struct{}{}
	return ch, nil
}

func (c *Chain) Unsubscribe(_ context.Context, ch <-chan evm.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		if sub == ch {
			delete(c.subs, sub)
			close(sub)
		}
	}
	return nil
}

// Close closes every subscription.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		delete(c.subs, sub)
		close(sub)
	}
	return nil
}

func (c *Chain) takeFailure() error {
	err := c.failNext
	c.failNext = nil
	return err
}

func (c *Chain) managed(addr common.Address) bool {
	for _, a := range c.accounts {
		if a == addr {
			return true
		}
	}
	return false
}

func (c *Chain) acceptLocked(tx pendingTx) {
	c.nonces[tx.from]++
	c.pending = append(c.pending, tx)
	c.inFlight[tx.from]++
	if c.inFlight[tx.from] > c.peak[tx.from] {
		c.peak[tx.from] = c.inFlight[tx.from]
	}

	if !c.automine {
		return
	}
	if c.mineDelay > 0 {
		time.AfterFunc(c.mineDelay, func() { c.Mine() })
		return
	}
	c.mineLocked()
}

func (c *Chain) mineLocked() evm.Header {
	parent := c.blocks[len(c.blocks)-1].header
	number := parent.Number + 1
	header := evm.Header{
		Number:     number,
		Hash:       blockHash(number, parent.Hash),
		ParentHash: parent.Hash,
		Time:       genesisTime + number,
	}

	b := block{header: header}
	var logIndex uint
	for i, tx := range c.pending {
		receipt := &evm.Receipt{
			TxHash:      tx.hash,
			TxIndex:     uint(i),
			BlockNumber: number,
			BlockHash:   header.Hash,
			From:        tx.from,
			To:          tx.to,
			Status:      1,
			GasUsed:     baseGas + 16*uint64(len(tx.data)),
		}
		if tx.to != nil && *tx.to == c.registry {
			receipt.Logs, receipt.Status = c.execute(tx, receipt, &logIndex)
		}
		c.receipts[tx.hash] = receipt
		c.logs = append(c.logs, receipt.Logs...)
		c.inFlight[tx.from]--
		b.txs = append(b.txs, tx.hash)
	}
	c.pending = nil
	c.blocks = append(c.blocks, b)

	for sub := range c.subs {
		select {
		case sub <- header:
		default:
		}
	}
	return header
}

// execute runs a registry call. Undecodable calldata or an underpaid native fee reverts.
func (c *Chain) execute(tx pendingTx, r *evm.Receipt, logIndex *uint) ([]evm.Log, uint64) {
	call, err := registry.UnpackCall(tx.data)
	if err != nil {
		return nil, 0
	}
	if call.Fee.IsNative() {
		paid := tx.value
		if paid == nil {
			paid = new(big.Int)
		}
		if paid.Cmp(call.Fee.AmountOrZero()) < 0 {
			return nil, 0
		}
	}

	logs := make([]evm.Log, 0, len(call.Claims))
	for _, claim := range call.Claims {
		if claim.Issuer.IsSigner() {
			claim.Issuer = domain.IssuedBy(tx.from)
		}
		topics, data, err := registry.EncodeClaimPublished(claim)
		if err != nil {
			return nil, 0
		}
		logs = append(logs, evm.Log{
			Address:     c.registry,
			Topics:      topics,
			Data:        data,
			BlockNumber: r.BlockNumber,
			BlockHash:   r.BlockHash,
			TxHash:      r.TxHash,
			TxIndex:     r.TxIndex,
			LogIndex:    *logIndex,
		})
		*logIndex++
	}
	return logs, 1
}

func blockHash(number uint64, parent common.Hash) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash(parent.Bytes(), buf[:])
}

func matchAddress(want []common.Address, got common.Address) bool {
	if len(want) == 0 {
		return true
	}
	for _, a := range want {
		if a == got {
			return true
		}
	}
	return false
}

func matchTopics(want [][]common.Hash, got []common.Hash) bool {
	for i, alts := range want {
		if len(alts) == 0 {
			continue
		}
		if i >= len(got) {
			return false
		}
		ok := false
		for _, t := range alts {
			if t == got[i] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func copyLog(l evm.Log) evm.Log {
	l.Topics = append([]common.Hash{}, l.Topics...)
	l.Data = append([]byte{}, l.Data...)
	return l
}
