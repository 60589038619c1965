package pool

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scylladb-go/shardpool/internal/codec"
)

// Conn wraps one live connection with the bookkeeping the pool needs:
// inflight request count, a one-way closing flag, its shard id, and a write
// buffer that the pool flushes on demand.
type Conn struct {
	raw     net.Conn
	shardID uint32

	inflight atomic.Int64
	closing  atomic.Bool

	mu           sync.Mutex
	writeBuf     [][]byte
	registeredToFlush bool

	onClose       func(*Conn)
	requiresFlush func(*Conn)

	lastActivity atomic.Int64 // unix nanos, for heartbeat/idle-timeout bookkeeping
}

func newConn(raw net.Conn, shardID uint32, onClose, requiresFlush func(*Conn)) *Conn {
	c := &Conn{raw: raw, shardID: shardID, onClose: onClose, requiresFlush: requiresFlush}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// NewConn wraps an already-handshaken connection for handoff to a Pool's
// seed list via New. The pool fills in onClose/requiresFlush itself once it
// places the connection into a shard slot.
func NewConn(raw net.Conn, shardID uint32) *Conn {
	return newConn(raw, shardID, nil, nil)
}

// ShardID is immutable after construction.
func (c *Conn) ShardID() uint32 { return c.shardID }

// InflightRequestCount reports the current outstanding-request count.
func (c *Conn) InflightRequestCount() int64 { return c.inflight.Load() }

// IsClosing reports whether local close has begun for any reason.
func (c *Conn) IsClosing() bool { return c.closing.Load() }

// Write enqueues a request frame. It increments the inflight counter and, if
// this write transitions the buffer from empty to non-empty, notifies the
// pool exactly once that a flush is needed (edge-triggered, per §4.E Flush).
func (c *Conn) Write(frame []byte) {
	if c.closing.Load() {
		return
	}
	c.inflight.Add(1)

	c.mu.Lock()
	wasEmpty := len(c.writeBuf) == 0
	c.writeBuf = append(c.writeBuf, frame)
	needsNotify := wasEmpty && !c.registeredToFlush
	if needsNotify {
		c.registeredToFlush = true
	}
	c.mu.Unlock()

	if needsNotify && c.requiresFlush != nil {
		c.requiresFlush(c)
	}
}

// flush drains the write buffer to the underlying connection. Called by the
// owning pool's Flush, never by request callers directly. On a write error
// it closes the socket but leaves pool bookkeeping to the caller, which
// already runs on the event loop and removes the connection itself.
func (c *Conn) flush() error {
	c.mu.Lock()
	pending := c.writeBuf
	c.writeBuf = nil
	c.registeredToFlush = false
	c.mu.Unlock()

	for _, frame := range pending {
		if _, err := c.raw.Write(frame); err != nil {
			c.closeQuiet()
			return err
		}
	}
	return nil
}

// onResponse is called by the (out-of-scope) frame-reader loop once per
// reply read off the wire; it decrements inflight and refreshes the
// liveness clock the heartbeat/idle-timeout logic consults.
func (c *Conn) onResponse() {
	c.inflight.Add(-1)
	c.lastActivity.Store(time.Now().UnixNano())
}

// IdleFor reports how long it has been since the last observed server
// traffic on this connection.
func (c *Conn) IdleFor() time.Duration {
	last := time.Unix(0, c.lastActivity.Load())
	return time.Since(last)
}

// Close begins graceful shutdown: sets the closing flag exactly once, closes
// the socket, and invokes onClose exactly once. Safe to call more than once;
// only the first call has any effect.
func (c *Conn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := c.raw.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
	return err
}

// closeQuiet closes the socket without invoking onClose. Used by the pool's
// own beginClose, which already runs on the event loop and would deadlock if
// it re-entered p.run through the normal onClose path.
func (c *Conn) closeQuiet() {
	if c.closing.CompareAndSwap(false, true) {
		c.raw.Close()
	}
}

// sendHeartbeat issues a synthetic OPTIONS frame as a keepalive probe; it
// does not bump the inflight counter because it isn't a caller-visible
// request.
func (c *Conn) sendHeartbeat() error {
	return codec.WriteFrame(c.raw, 0, codec.OpOptions, codec.EncodeOptionsBody())
}
