// Package pool implements the per-host shard-aware connection pool: the
// component that owns a host's live connections, keeps each shard slot
// filled via the reconnection schedule, and answers "which connection
// should this request ride on".
//
// All pool state is mutated on a single internal goroutine (the pool's event
// loop), the same shape as the teacher's ticker-driven scheduler loop: every
// public method posts a closure onto a command channel instead of taking a
// lock directly, so connection-removal, reconnect completion and close all
// serialize through one place and can never interleave in ways that would
// leave connsByShard inconsistent.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scylladb-go/shardpool/internal/codec"
	"github.com/scylladb-go/shardpool/internal/dial"
	"github.com/scylladb-go/shardpool/internal/metrics"
	"github.com/scylladb-go/shardpool/internal/sharding"
	"github.com/scylladb-go/shardpool/internal/shardport"
	"github.com/scylladb-go/shardpool/pkg/lib/log"
)

var logger = log.Logger("pool")

// CloseState is the pool's monotonic shutdown dimension.
type CloseState int

const (
	StateOpen CloseState = iota
	StateClosing
	StateWaitingForConnections
	StateClosed
)

// NotifyState is the pool's observed-liveness dimension, reported to the
// Listener.
type NotifyState int

const (
	NotifyNew NotifyState = iota
	NotifyUp
	NotifyDown
	NotifyCritical
)

// Listener receives the pool's state-transition callbacks.
type Listener interface {
	OnPoolUp(host string)
	OnPoolDown(host string)
	OnPoolCriticalError(host string, code uint32, message string)
	OnRequiresFlush(p *Pool)
	OnClose(p *Pool)
}

// Settings are the pool-level tunables; ConnectSettings is passed through
// unmodified to every Connector the pool spawns.
type Settings struct {
	NumConnectionsPerHost int
	ReconnectBaseDelay    time.Duration
	ReconnectMaxDelay     time.Duration
	ConnectSettings       dial.Settings

	// Keyspace is selected against every connection the pool places, seed or
	// reconnected, from construction onward. SetKeyspace changes it for
	// connections placed afterward.
	Keyspace string
}

type pendingAttempt struct {
	connector    *dial.Connector
	schedule     dial.Schedule
	desiredShard int
	cancel       context.CancelFunc
}

// Pool is the per-host connection pool described in §4.E. Construct with
// New; all exported methods are safe for concurrent use.
type Pool struct {
	host       string
	settings   Settings
	descriptor *sharding.Descriptor
	listener   Listener
	calc       *shardport.Calculator
	metrics    *metrics.Registry

	numPerShard int
	shardCount  int

	// loopCh serializes every mutation onto one goroutine, mirroring the
	// single-event-loop-per-host model in §5.
	loopCh   chan func()
	loopDone chan struct{}
	wg       sync.WaitGroup

	connsByShard [][]*Conn
	toFlush      map[*Conn]bool
	pending      map[*pendingAttempt]bool

	closeState  CloseState
	notifyState NotifyState
	keyspace    string
}

// New constructs a pool for host, seeding it with any already-open
// connections (typically a single control connection) and scheduling
// reconnects for every shard slot that isn't full yet. Mirrors the
// constructor body in the original connection_pool.cpp: size the per-shard
// vectors, place or discard each seed connection, evaluate the initial
// notify_state, then schedule reconnects for whatever's still missing.
func New(host string, descriptor *sharding.Descriptor, seed []*Conn, listener Listener, calc *shardport.Calculator, metricsReg *metrics.Registry, settings Settings) *Pool {
	shardCount := descriptor.ShardCount()
	numPerShard := settings.NumConnectionsPerHost
	if shardCount > 1 {
		numPerShard = ceilDiv(settings.NumConnectionsPerHost, shardCount)
	}
	if numPerShard < 1 {
		numPerShard = 1
	}

	p := &Pool{
		host:        host,
		settings:    settings,
		descriptor:  descriptor,
		listener:    listener,
		calc:        calc,
		metrics:     metricsReg,
		numPerShard: numPerShard,
		shardCount:  shardCount,
		loopCh:      make(chan func()),
		loopDone:    make(chan struct{}),
		toFlush:     make(map[*Conn]bool),
		pending:     make(map[*pendingAttempt]bool),
		keyspace:    settings.Keyspace,
	}
	p.connsByShard = make([][]*Conn, shardCount)

	p.wg.Add(1)
	go p.loop()

	var placed []*Conn
	p.run(func() {
		for _, c := range seed {
			if p.place(c) {
				placed = append(placed, c)
			}
		}
		p.evaluateNotifyState()
		p.scheduleMissingReconnects()
	})
	for _, c := range placed {
		p.issueUseKeyspace(c)
	}
	return p
}

func ceilDiv(total, n int) int {
	if n <= 0 {
		return total
	}
	return (total + n - 1) / n
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.loopCh:
			fn()
		case <-p.loopDone:
			// Drain anything already queued before a command that
			// triggered shutdown, then exit.
			for {
				select {
				case fn := <-p.loopCh:
					fn()
				default:
					return
				}
			}
		}
	}
}

// run posts fn onto the event loop and blocks until it has executed. Once the
// pool has closed and the loop has shut down, run returns without executing
// fn.
func (p *Pool) run(fn func()) {
	done := make(chan struct{})
	select {
	case p.loopCh <- func() { fn(); close(done) }:
		<-done
	case <-p.loopDone:
	}
}

// place inserts c into its shard slot iff there's room and it isn't already
// closing, reporting whether it did; otherwise c is closed immediately so no
// connection ever leaks. Always runs on the event loop. Callers that need to
// write to a freshly placed connection (issueUseKeyspace) must do so after
// the enclosing p.run block has returned: Conn.Write can call back into
// onRequiresFlush, which itself calls p.run, and place() never returns to a
// point outside the loop on its own.
func (p *Pool) place(c *Conn) bool {
	slot := int(c.ShardID())
	if slot >= len(p.connsByShard) {
		slot = 0
	}
	if c.IsClosing() || len(p.connsByShard[slot]) >= p.numPerShard {
		c.Close()
		return false
	}
	c.onClose = p.onConnectionClosed
	c.requiresFlush = p.onRequiresFlush
	p.connsByShard[slot] = append(p.connsByShard[slot], c)
	if p.metrics != nil {
		p.metrics.ConnectionsGauge(p.host, slot).Inc()
	}
	return true
}

func (p *Pool) totalLive() int {
	n := 0
	for _, s := range p.connsByShard {
		n += len(s)
	}
	return n
}

// FindLeastBusy implements §4.E's dispatch: prefer the correct shard when a
// token is known and the host is sharded, falling back to a global search
// when that slot is empty or its best candidate is closing.
func (p *Pool) FindLeastBusy(token *int64) *Conn {
	var result *Conn
	p.run(func() {
		result = p.findLeastBusyLocked(token)
	})
	return result
}

// noToken is the sentinel meaning "dispatch without shard affinity".
var noToken *int64

func (p *Pool) findLeastBusyLocked(token *int64) *Conn {
	if token == nil || p.descriptor == nil {
		return leastBusyAmong(allConns(p.connsByShard))
	}
	shard := p.descriptor.ShardID(*token)
	if int(shard) >= len(p.connsByShard) {
		return leastBusyAmong(allConns(p.connsByShard))
	}
	if best := leastBusyAmong(p.connsByShard[shard]); best != nil {
		return best
	}
	return p.findLeastBusyLocked(noToken)
}

func allConns(byShard [][]*Conn) []*Conn {
	var out []*Conn
	for _, s := range byShard {
		out = append(out, s...)
	}
	return out
}

// leastBusyAmong returns the non-closing connection with the lowest inflight
// count, or nil. A closing connection is never preferred over any
// non-closing one regardless of inflight count.
func leastBusyAmong(conns []*Conn) *Conn {
	var best *Conn
	for _, c := range conns {
		if c.IsClosing() {
			continue
		}
		if best == nil || c.InflightRequestCount() < best.InflightRequestCount() {
			best = c
		}
	}
	return best
}

// Flush drains every connection registered as needing a flush. A connection
// whose flush fails is dropped and a replacement scheduled, same as any
// other connection loss.
func (p *Pool) Flush() {
	p.run(func() {
		for c := range p.toFlush {
			if err := c.flush(); err != nil {
				p.removeConn(c)
			}
		}
		p.toFlush = make(map[*Conn]bool)
	})
}

// Heartbeat probes every connection idle longer than idleTimeout with an
// OPTIONS frame; a probe that fails to even write is treated as a lost
// connection. A connection whose probe writes successfully stays open: idle
// time alone never closes a connection. Intended to be called periodically
// by the session's background loop, one call per tracked pool.
func (p *Pool) Heartbeat(idleTimeout time.Duration) {
	p.run(func() {
		var dead []*Conn
		for _, shard := range p.connsByShard {
			for _, c := range shard {
				if c.IdleFor() < idleTimeout {
					continue
				}
				if err := c.sendHeartbeat(); err != nil {
					c.closeQuiet()
					dead = append(dead, c)
				}
			}
		}
		for _, c := range dead {
			p.removeConn(c)
		}
	})
}

// onRequiresFlush runs on whatever goroutine called Conn.Write, not on the
// pool's loop goroutine: p.run only touches toFlush under the loop's
// ownership, and the listener callback is made after p.run returns, off the
// loop, so a listener that turns around and calls Flush synchronously (as
// Session does) doesn't re-enter p.run from inside the loop it's waiting on.
func (p *Pool) onRequiresFlush(c *Conn) {
	var notify bool
	p.run(func() {
		wasEmpty := len(p.toFlush) == 0
		p.toFlush[c] = true
		notify = wasEmpty
	})
	if notify && p.listener != nil {
		p.listener.OnRequiresFlush(p)
	}
}

// SetKeyspace records the keyspace future connections should select. It does
// not affect already-open connections.
func (p *Pool) SetKeyspace(ks string) {
	p.run(func() { p.keyspace = ks })
}

// issueUseKeyspace writes a USE <keyspace> query to c if the pool has a
// keyspace selected. Called only after the p.run block that placed c has
// already returned (see place), never from loop-resident code: Write is what
// triggers onRequiresFlush, which calls p.run itself.
func (p *Pool) issueUseKeyspace(c *Conn) {
	var ks string
	p.run(func() { ks = p.keyspace })
	if ks == "" {
		return
	}
	c.Write(codec.EncodeFrame(0, codec.OpQuery, codec.EncodeQueryBody(fmt.Sprintf("USE %s", ks), codec.ConsistencyOne)))
}

// HasConnections reports whether the pool currently has any live
// connection on any shard.
func (p *Pool) HasConnections() bool {
	var has bool
	p.run(func() { has = p.totalLive() > 0 })
	return has
}

func (p *Pool) evaluateNotifyState() {
	up := p.totalLive() > 0
	switch {
	case up && p.notifyState != NotifyUp && p.notifyState != NotifyCritical:
		p.notifyState = NotifyUp
		if p.listener != nil {
			go p.listener.OnPoolUp(p.host)
		}
	case !up && p.notifyState == NotifyUp:
		p.notifyState = NotifyDown
		if p.listener != nil {
			go p.listener.OnPoolDown(p.host)
		}
	}
}

func (p *Pool) notifyCriticalError(code uint32, message string) {
	if p.notifyState == NotifyCritical {
		return
	}
	p.notifyState = NotifyCritical
	if p.listener != nil {
		go p.listener.OnPoolCriticalError(p.host, code, message)
	}
}

// String implements fmt.Stringer for log-friendliness.
func (p *Pool) String() string {
	return fmt.Sprintf("pool(%s, shards=%d, perShard=%d)", p.host, p.shardCount, p.numPerShard)
}
