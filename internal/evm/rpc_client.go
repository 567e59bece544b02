package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"

	"dtp-claims/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

var _ RPCClient = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewHTTPClient creates a new JSON-RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL the client talks to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// maxResponseBytes caps a single response body.
const maxResponseBytes = 32 << 20

// retryableError marks a failed attempt that may succeed when repeated.
type retryableError struct {
	err error
	// after is the wait the server asked for, zero if none.
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// call performs a JSON-RPC call. Transport failures, non-200 statuses and
// undecodable bodies are retried with exponential backoff; node errors are
// returned as *RPCError on the first occurrence.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds(), err)
	}()

	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	delay := c.retryDelay
	for attempt := 0; ; attempt++ {
		raw, err := c.post(ctx, body)
		if err == nil {
			if result == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
			return nil
		}

		var retry *retryableError
		if !errors.As(err, &retry) {
			return err
		}
		if attempt >= c.maxRetries {
			return fmt.Errorf("%s: giving up after %d attempts: %w", method, attempt+1, retry.err)
		}

		// Retry-After is honoured up to maxDelay.
		wait := min(max(delay, retry.after), c.maxDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = min(time.Duration(float64(delay)*c.backoffMult), c.maxDelay)
	}
}

// post sends one request and returns the raw result.
func (c *HTTPClient) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: errors.New("rate limited (429)"), after: retryAfter(resp.Header)}
	case resp.StatusCode != http.StatusOK:
		return nil, &retryableError{err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, &retryableError{err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// retryAfter reads a delay-seconds Retry-After header.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ChainID returns the chain id reported by the node.
func (c *HTTPClient) ChainID(ctx context.Context) (int64, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_chainId", nil, &result); err != nil {
		return 0, err
	}
	return (*big.Int)(&result).Int64(), nil
}

// BlockNumber returns the latest block number.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// Accounts returns the accounts managed by the node.
func (c *HTTPClient) Accounts(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	if err := c.call(ctx, "eth_accounts", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetLogs returns logs matching the filter.
func (c *HTTPClient) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	params := []interface{}{rpcFilter{
		FromBlock: hexutil.Uint64(filter.FromBlock),
		ToBlock:   hexutil.Uint64(filter.ToBlock),
		Address:   filter.Addresses,
		Topics:    filter.Topics,
	}}

	var result []rpcLog
	if err := c.call(ctx, "eth_getLogs", params, &result); err != nil {
		return nil, err
	}

	logs := make([]Log, len(result))
	for i, l := range result {
		logs[i] = l.toLog()
	}
	return logs, nil
}

// TransactionReceipt returns the receipt for hash, or nil if not yet mined.
func (c *HTTPClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var result *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &result); err != nil {
		return nil, err
	}

	if result == nil {
		// Not mined yet
		return nil, nil
	}

	receipt := &Receipt{
		TxHash:      result.TxHash,
		TxIndex:     uint(result.TxIndex),
		BlockNumber: uint64(result.BlockNumber),
		BlockHash:   result.BlockHash,
		From:        result.From,
		To:          result.To,
		Status:      uint64(result.Status),
		GasUsed:     uint64(result.GasUsed),
	}
	for _, l := range result.Logs {
		receipt.Logs = append(receipt.Logs, l.toLog())
	}
	return receipt, nil
}

// SendTransaction asks the node to sign and submit a transaction for args.From.
func (c *HTTPClient) SendTransaction(ctx context.Context, args TxArgs) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, "eth_sendTransaction", []interface{}{toRPCTxArgs(args)}, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// SendRawTransaction submits an already signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Bytes(raw)}, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// PendingNonce returns the next nonce for account, counting pending transactions.
func (c *HTTPClient) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{account, "pending"}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// EstimateGas estimates the gas needed by args.
func (c *HTTPClient) EstimateGas(ctx context.Context, args TxArgs) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_estimateGas", []interface{}{toRPCTxArgs(args)}, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// GasPrice returns the suggested legacy gas price.
func (c *HTTPClient) GasPrice(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.call(ctx, "eth_gasPrice", nil, &result); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}
