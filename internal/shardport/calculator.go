// Package shardport picks outgoing TCP source ports so that a server which
// routes incoming connections by port % shard_count places the connection on
// a specific shard. One Calculator is shared across every pool in a cluster.
package shardport

import "sync"

// Calculator hands out candidate local ports within [Lo, Hi) that satisfy
// `port % shardCount == desiredShard`. It tracks ports it has recently
// handed out so two concurrent callers don't race for the same one; it does
// not and cannot guarantee the port is actually bindable, since another
// process on the host could have taken it in the meantime — it only reduces
// the odds of a failed connect attempt.
type Calculator struct {
	lo, hi int

	mu    sync.Mutex
	inUse map[int]bool
}

// New builds a Calculator that only ever proposes ports in [lo, hi).
func New(lo, hi int) *Calculator {
	return &Calculator{lo: lo, hi: hi, inUse: make(map[int]bool)}
}

// Calculate returns a free port p in [lo, hi) with p % shardCount ==
// desiredShard, and ok == true. If no such port is currently free, it
// returns (0, false) and the caller should fall back to letting the OS pick
// an ephemeral port and accept whatever shard the server assigns.
func (c *Calculator) Calculate(shardCount int, desiredShard uint32) (int, bool) {
	if shardCount <= 0 {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.lo + (int(desiredShard)-c.lo%shardCount+shardCount)%shardCount
	for p := start; p < c.hi; p += shardCount {
		if p%shardCount != int(desiredShard) {
			continue // only possible when desiredShard >= shardCount; be defensive
		}
		if !c.inUse[p] {
			c.inUse[p] = true
			return p, true
		}
	}
	return 0, false
}

// Release marks a port as no longer reserved, once the connection attempt
// that requested it has completed, succeeded or failed.
func (c *Calculator) Release(port int) {
	if port <= 0 {
		return
	}
	c.mu.Lock()
	delete(c.inUse, port)
	c.mu.Unlock()
}
