package evm

import "context"

// WSClient defines the Ethereum websocket subscription interface.
type WSClient interface {
	// SubscribeNewHeads subscribes to new chain heads.
	SubscribeNewHeads(ctx context.Context) (<-chan Header, error)

	// Unsubscribe cancels a subscription returned by SubscribeNewHeads and closes its channel.
	Unsubscribe(ctx context.Context, ch <-chan Header) error

	// Close closes the WebSocket connection.
	Close() error
}
