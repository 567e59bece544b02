package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dtp-claims/internal/observability"
)

// WSClientConfig tunes the newHeads websocket client. Zero durations take
// the DefaultWSConfig value.
type WSClientConfig struct {
	HandshakeTimeout time.Duration
	// ReconnectDelay is the first redial delay. It doubles per failed attempt
	// up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// PingInterval spaces keepalive pings. Each pong extends the read deadline.
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultWSConfig returns the default websocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HandshakeTimeout:  10 * time.Second,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

func (c WSClientConfig) withDefaults() WSClientConfig {
	def := DefaultWSConfig()
	orDefault := func(d *time.Duration, fallback time.Duration) {
		if *d <= 0 {
			*d = fallback
		}
	}
	orDefault(&c.HandshakeTimeout, def.HandshakeTimeout)
	orDefault(&c.ReconnectDelay, def.ReconnectDelay)
	orDefault(&c.MaxReconnectDelay, def.MaxReconnectDelay)
	orDefault(&c.PingInterval, def.PingInterval)
	orDefault(&c.ReadTimeout, def.ReadTimeout)
	orDefault(&c.WriteTimeout, def.WriteTimeout)
	orDefault(&c.SubscribeTimeout, def.SubscribeTimeout)
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// headBuffer is the per-subscription buffer. Heads only trigger receipt
// checks, so a full buffer drops the newest head instead of blocking reads.
const headBuffer = 64

var errWSClosed = errors.New("websocket client closed")

// subReply answers one eth_subscribe call.
type subReply struct {
	id  string
	err error
}

// HeadSubscriber implements WSClient over one websocket connection. Live
// subscriptions are re-created after a reconnect. Heads missed while
// disconnected are not replayed.
type HeadSubscriber struct {
	endpoint string
	cfg      WSClientConfig
	logger   *log.Logger
	dialer   websocket.Dialer

	connMu sync.Mutex // guards conn and serialises writes
	conn   *websocket.Conn

	mu      sync.Mutex
	heads   map[string]chan Header   // by subscription id
	waiting map[uint64]chan subReply // eth_subscribe calls by request id

	lastID atomic.Uint64
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ WSClient = (*HeadSubscriber)(nil)

// NewWSClient dials endpoint and starts the read and keepalive loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*HeadSubscriber, error) {
	var cfg WSClientConfig
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	s := &HeadSubscriber{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   cfg.Logger,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		heads:   make(map[string]chan Header),
		waiting: make(map[uint64]chan subReply),
		done:    make(chan struct{}),
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn

	s.wg.Add(2)
	go s.readLoop(conn)
	go s.keepalive()
	return s, nil
}

func (s *HeadSubscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", s.endpoint, err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	return conn, nil
}

// SubscribeNewHeads subscribes to new chain heads.
func (s *HeadSubscriber) SubscribeNewHeads(ctx context.Context) (<-chan Header, error) {
	id, err := s.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan Header, headBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, errWSClosed
	}
	s.heads[id] = ch
	return ch, nil
}

// Unsubscribe cancels the subscription feeding ch and closes ch.
func (s *HeadSubscriber) Unsubscribe(ctx context.Context, ch <-chan Header) error {
	var id string
	s.mu.Lock()
	for subID, sub := range s.heads {
		if sub == ch {
			id = subID
			delete(s.heads, subID)
			close(sub)
			break
		}
	}
	s.mu.Unlock()

	if id == "" || s.closed.Load() {
		return nil
	}
	return s.send(ctx, s.lastID.Add(1), "eth_unsubscribe", id)
}

// Close sends a close frame, ends every subscription and waits for the
// background loops to exit. Safe to call more than once.
func (s *HeadSubscriber) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.mu.Lock()
	for id, ch := range s.heads {
		close(ch)
		delete(s.heads, id)
	}
	s.mu.Unlock()
	s.failWaiting(errWSClosed)

	s.wg.Wait()
	return nil
}

// subscribe sends eth_subscribe(newHeads) and waits for the subscription id.
func (s *HeadSubscriber) subscribe(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", errWSClosed
	}

	reqID := s.lastID.Add(1)
	reply := make(chan subReply, 1)
	s.mu.Lock()
	s.waiting[reqID] = reply
	s.mu.Unlock()
	defer s.forget(reqID)

	if err := s.send(ctx, reqID, "eth_subscribe", "newHeads"); err != nil {
		return "", err
	}

	timer := time.NewTimer(s.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r.id, r.err
	case <-timer.C:
		return "", fmt.Errorf("eth_subscribe: no reply after %s", s.cfg.SubscribeTimeout)
	case <-s.done:
		return "", errWSClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *HeadSubscriber) send(ctx context.Context, id uint64, method string, params ...interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("%s: not connected", method)
	}
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)

	req := wsRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	return nil
}

func (s *HeadSubscriber) forget(reqID uint64) {
	s.mu.Lock()
	delete(s.waiting, reqID)
	s.mu.Unlock()
}

// resolve hands r to the eth_subscribe call waiting on reqID, if any.
func (s *HeadSubscriber) resolve(reqID uint64, r subReply) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiting[reqID]
	if ok {
		delete(s.waiting, reqID)
		ch <- r
	}
	return ok
}

func (s *HeadSubscriber) failWaiting(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.waiting {
		ch <- subReply{err: err}
		delete(s.waiting, id)
	}
}

// readLoop owns the read side of the connection. After a read error it
// redials with backoff and restores subscriptions from another goroutine,
// since their replies arrive through this loop.
func (s *HeadSubscriber) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		err := s.drain(conn)
		if s.closed.Load() {
			return
		}
		s.logger.Printf("[ws] %s: connection lost: %v", s.endpoint, err)
		s.failWaiting(err)

		if conn = s.redial(); conn == nil {
			return
		}
		s.wg.Add(1)
		go s.resubscribe()
	}
}

func (s *HeadSubscriber) drain(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(msg)
	}
}

// redial replaces the connection, doubling the delay between attempts.
// It returns nil once the client is closed.
func (s *HeadSubscriber) redial() *websocket.Conn {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	delay := s.cfg.ReconnectDelay
	for {
		select {
		case <-s.done:
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
		conn, err := s.dial(ctx)
		cancel()
		if err != nil {
			s.logger.Printf("[ws] reconnect %s: %v", s.endpoint, err)
			delay = min(delay*2, s.cfg.MaxReconnectDelay)
			continue
		}

		s.connMu.Lock()
		defer s.connMu.Unlock()
		if s.closed.Load() {
			conn.Close()
			return nil
		}
		s.conn = conn
		return conn
	}
}

func (s *HeadSubscriber) resubscribe() {
	defer s.wg.Done()

	s.mu.Lock()
	live := maps.Clone(s.heads)
	s.mu.Unlock()

	for oldID, ch := range live {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubscribeTimeout)
		newID, err := s.subscribe(ctx)
		if err != nil {
			cancel()
			s.logger.Printf("[ws] resubscribe %s: %v", oldID, err)
			continue
		}

		s.mu.Lock()
		current := s.heads[oldID] == ch
		if current {
			delete(s.heads, oldID)
			s.heads[newID] = ch
		}
		s.mu.Unlock()

		// Unsubscribed while the new id was pending.
		if !current {
			_ = s.send(ctx, s.lastID.Add(1), "eth_unsubscribe", newID)
		}
		cancel()
	}
}

func (s *HeadSubscriber) dispatch(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Printf("[ws] %s: undecodable message: %v", s.endpoint, err)
		return
	}

	switch {
	case msg.Method == "eth_subscription" && msg.Params != nil:
		s.deliverHead(msg.Params)
	case msg.Error != nil:
		if !s.resolve(msg.ID, subReply{err: msg.Error}) {
			s.logger.Printf("[ws] error response: id=%d code=%d msg=%s", msg.ID, msg.Error.Code, msg.Error.Message)
		}
	case msg.ID != 0:
		var id string
		if err := json.Unmarshal(msg.Result, &id); err == nil && id != "" {
			s.resolve(msg.ID, subReply{id: id})
		}
	}
}

func (s *HeadSubscriber) deliverHead(params *wsNotificationParams) {
	var raw rpcHeader
	if err := json.Unmarshal(params.Result, &raw); err != nil {
		return
	}
	observability.RecordHead()

	head := Header{
		Number:     uint64(raw.Number),
		Hash:       raw.Hash,
		ParentHash: raw.ParentHash,
		Time:       uint64(raw.Time),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.heads[params.Subscription]; ok {
		select {
		case ch <- head:
		default:
		}
	}
}

// keepalive pings on an interval. A failed ping surfaces as a read error.
func (s *HeadSubscriber) keepalive() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// wsMessage covers responses and notifications.
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id,omitempty"`
	Method  string                `json:"method,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *RPCError             `json:"error,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}
