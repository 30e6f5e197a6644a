package solana

import (
	"context"
	"fmt"
)

// ClusterClock reads wall-clock time from the cluster: the block time of the
// most recent slot at the client's commitment level.
type ClusterClock struct {
	rpc RPCClient
}

// NewClusterClock creates a clock backed by rpc.
func NewClusterClock(rpc RPCClient) *ClusterClock {
	return &ClusterClock{rpc: rpc}
}

// Now returns the current cluster unix timestamp in seconds.
func (c *ClusterClock) Now(ctx context.Context) (int64, error) {
	slot, err := c.rpc.GetSlot(ctx)
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	ts, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		return 0, fmt.Errorf("get block time: %w", err)
	}
	return ts, nil
}
