package solana

import "context"

// RPCClient is the subset of the Solana JSON-RPC API used to read cluster time.
type RPCClient interface {
	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)

	// GetBlockTime retrieves the unix timestamp (seconds) of a slot.
	GetBlockTime(ctx context.Context, slot int64) (int64, error)
}
