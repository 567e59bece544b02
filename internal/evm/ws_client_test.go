package evm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// idleServer accepts a websocket and reads until the client goes away.
func idleServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_Connect(t *testing.T) {
	client, err := NewWSClient(context.Background(), idleServer(t), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeNewHeads(t *testing.T) {
	unsubscribed := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		if req.Method != "eth_subscribe" {
			t.Errorf("expected eth_subscribe, got %s", req.Method)
		}
		if len(req.Params) != 1 || req.Params[0] != "newHeads" {
			t.Errorf("expected newHeads params, got %v", req.Params)
		}

		if err := c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0xcd0c3e8af590364c09d0fa6a1210faf5",
		}); err != nil {
			t.Errorf("write response: %v", err)
			return
		}

		time.Sleep(50 * time.Millisecond)
		head, _ := json.Marshal(rpcHeader{
			Number:     0x10,
			Hash:       common.HexToHash("0xbeef"),
			ParentHash: common.HexToHash("0xcafe"),
			Time:       1700000000,
		})
		if err := c.WriteJSON(wsMessage{
			JSONRPC: "2.0",
			Method:  "eth_subscription",
			Params: &wsNotificationParams{
				Subscription: "0xcd0c3e8af590364c09d0fa6a1210faf5",
				Result:       head,
			},
		}); err != nil {
			t.Errorf("write notification: %v", err)
			return
		}

		for {
			var next wsRequest
			if err := c.ReadJSON(&next); err != nil {
				return
			}
			if next.Method == "eth_unsubscribe" && len(next.Params) == 1 {
				unsubscribed <- next.Params[0].(string)
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeNewHeads(ctx)
	if err != nil {
		t.Fatalf("SubscribeNewHeads: %v", err)
	}

	select {
	case head := <-ch:
		if head.Number != 16 {
			t.Errorf("expected head 16, got %d", head.Number)
		}
		if head.Hash != common.HexToHash("0xbeef") {
			t.Errorf("unexpected hash %s", head.Hash.Hex())
		}
		if head.Time != 1700000000 {
			t.Errorf("unexpected time %d", head.Time)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for head")
	}

	if err := client.Unsubscribe(ctx, ch); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	select {
	case id := <-unsubscribed:
		if id != "0xcd0c3e8af590364c09d0fa6a1210faf5" {
			t.Errorf("unsubscribed %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for eth_unsubscribe")
	}

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestWSClient_SubscribeTimeout(t *testing.T) {
	config := DefaultWSConfig()
	config.SubscribeTimeout = 50 * time.Millisecond

	client, err := NewWSClient(context.Background(), idleServer(t), &config)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if _, err := client.SubscribeNewHeads(context.Background()); err == nil {
		t.Fatal("expected timeout without a subscription id")
	}
	client.mu.Lock()
	pending := len(client.waiting)
	client.mu.Unlock()
	if pending != 0 {
		t.Errorf("expected pending request to be dropped, got %d", pending)
	}
}

func TestWSClient_Close(t *testing.T) {
	client, err := NewWSClient(context.Background(), idleServer(t), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	client, err := NewWSClient(context.Background(), idleServer(t), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	client.Close()

	if _, err := client.SubscribeNewHeads(context.Background()); err == nil {
		t.Error("expected error subscribing after close")
	}
}

func TestWSClient_DialError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := NewWSClient(ctx, "ws://127.0.0.1:1", nil); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestWSClient_SubscribeErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		_ = c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32601, "message": "notifications not supported"},
		})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	start := time.Now()
	_, err = client.SubscribeNewHeads(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Fatalf("expected RPC error -32601, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("error reply should not wait for the subscribe timeout, took %s", elapsed)
	}
}
