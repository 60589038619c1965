package pool

import (
	"context"
	"time"

	"github.com/scylladb-go/shardpool/internal/dial"
)

// scheduleMissingReconnects schedules one reconnect attempt per connection
// still missing from every under-filled shard slot. Called once, at
// construction.
func (p *Pool) scheduleMissingReconnects() {
	if p.closeState != StateOpen {
		return
	}
	for shard := 0; shard < p.shardCount; shard++ {
		missing := p.numPerShard - len(p.connsByShard[shard])
		for i := 0; i < missing; i++ {
			p.scheduleReconnect(p.desiredShardFor(shard), nil)
		}
	}
}

// desiredShardFor returns the shard id a reconnect attempt for shard should
// request, or -1 ("no preference") when the host has no shard-aware port to
// route by, matching the original's gating on shard_aware_port presence.
func (p *Pool) desiredShardFor(shard int) int {
	if p.shardCount <= 1 {
		return -1
	}
	if _, ok := p.descriptor.HasShardAwarePort(p.settings.ConnectSettings.SSL); !ok {
		return -1
	}
	return shard
}

// scheduleReconnect creates (or reuses, if sched != nil) the backoff
// schedule for the slot identified by desiredShard, builds a Connector for
// the next attempt, and fires it on its own goroutine. Mirrors
// schedule_reconnect in the original: the schedule object's identity
// persists across repeated failures for the same slot so its backoff keeps
// growing.
func (p *Pool) scheduleReconnect(desiredShard int, sched dial.Schedule) {
	if p.closeState != StateOpen {
		return
	}
	if sched == nil {
		sched = dial.NewSchedule(p.settings.ReconnectBaseDelay, p.settings.ReconnectMaxDelay)
	}
	delay := sched.NextDelay()

	connector := dial.NewConnector(p.settings.ConnectSettings, p.calc, desiredShard, delay)
	ctx, cancel := context.WithCancel(context.Background())
	attempt := &pendingAttempt{connector: connector, schedule: sched, desiredShard: desiredShard, cancel: cancel}
	p.pending[attempt] = true

	go connector.Run(ctx, func(res dial.Result) {
		var placed *Conn
		p.run(func() { placed = p.onReconnectDone(attempt, res) })
		if placed != nil {
			p.issueUseKeyspace(placed)
		}
	})
}

// onReconnectDone is the completion handler for one Connector: ok, critical,
// transient and canceled branches, with explicit schedule reuse on a
// wrong-shard placement or a transient failure, exactly as the original's
// on_reconnect does. Returns the connection it placed, if any, so the caller
// can issue USE <keyspace> against it once back outside p.run (onReconnectDone
// itself always runs inside one).
func (p *Pool) onReconnectDone(attempt *pendingAttempt, res dial.Result) *Conn {
	delete(p.pending, attempt)
	p.metrics.ObserveConnectAttempt(p.host, res.Outcome.String())

	switch res.Outcome {
	case dial.OutcomeOK:
		if p.closeState != StateOpen {
			// The pool began closing while this attempt was finishing.
			res.Conn.Close()
			p.maybeClosed()
			return nil
		}
		slot := int(res.ShardID)
		if slot >= len(p.connsByShard) {
			slot = 0
		}
		if len(p.connsByShard[slot]) < p.numPerShard {
			conn := newConn(res.Conn, res.ShardID, p.onConnectionClosed, p.onRequiresFlush)
			placed := p.place(conn)
			p.evaluateNotifyState()
			if placed {
				return conn
			}
			return nil
		}
		// Server put us on an already-full shard; drop the connection and
		// retry for the shard we actually wanted, reusing the schedule so
		// backoff keeps growing against an uncooperative server.
		res.Conn.Close()
		if p.closeState == StateOpen {
			p.scheduleReconnect(attempt.desiredShard, attempt.schedule)
		} else {
			p.maybeClosed()
		}

	case dial.OutcomeTransient:
		if p.closeState == StateOpen {
			p.scheduleReconnect(attempt.desiredShard, attempt.schedule)
		} else {
			p.maybeClosed()
		}

	case dial.OutcomeCritical:
		logger.Warn("critical connect failure, closing pool", "host", p.host, "err", res.Err)
		p.notifyCriticalError(0, errString(res.Err))
		p.beginClose()

	case dial.OutcomeCanceled:
		p.maybeClosed()
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// onConnectionClosed is the pool-side half of Conn.Close's callback. It runs
// on whatever goroutine called Close and always posts through p.run. beginClose,
// which already runs on the event loop, bypasses this and calls removeConn
// directly instead, since posting through p.run from the loop goroutine
// itself would deadlock.
func (p *Pool) onConnectionClosed(c *Conn) {
	p.run(func() { p.removeConn(c) })
}

// removeConn drops c from its shard slot and the flush set, updates metrics,
// then either evaluates the close-terminal condition or schedules a
// replacement. Must run on the event loop.
func (p *Pool) removeConn(c *Conn) {
	for shard, conns := range p.connsByShard {
		for i, existing := range conns {
			if existing != c {
				continue
			}
			p.connsByShard[shard] = append(conns[:i:i], conns[i+1:]...)
			if p.metrics != nil {
				p.metrics.ConnectionsGauge(p.host, shard).Dec()
			}
			delete(p.toFlush, c)

			if p.closeState != StateOpen {
				p.maybeClosed()
				return
			}
			p.evaluateNotifyState()
			p.scheduleReconnect(p.desiredShardFor(shard), nil)
			return
		}
	}
}

// AttemptImmediateConnect fast-forwards every pending reconnect by
// cancelling it and immediately scheduling a zero-delay replacement that
// reuses its backoff schedule (the schedule keeps its attempt count, only
// the *next* wait is skipped).
func (p *Pool) AttemptImmediateConnect() {
	p.run(func() {
		if p.closeState != StateOpen {
			return
		}
		pending := p.pending
		p.pending = make(map[*pendingAttempt]bool)
		for attempt := range pending {
			attempt.cancel()
			p.scheduleReconnect(attempt.desiredShard, &zeroDelayOnce{inner: attempt.schedule})
		}
	})
}

// zeroDelayOnce wraps a Schedule so its very next delay is zero while still
// advancing the wrapped schedule's attempt counter, then defers to it for
// every later call. Used by AttemptImmediateConnect so a forced-immediate
// retry doesn't reset backoff the schedule had already built up. A
// zeroDelayOnce is stored as the slot's persistent attempt.schedule after
// the immediate retry, and reused across every later transient-failure
// retry for that slot, so the "once" must actually track having fired —
// without consumed, every later call would also return 0 and the slot
// would retry in a tight, backoff-free loop against a failing host.
type zeroDelayOnce struct {
	inner    dial.Schedule
	consumed bool
}

func (z *zeroDelayOnce) NextDelay() time.Duration {
	if !z.consumed {
		z.consumed = true
		z.inner.NextDelay()
		return 0
	}
	return z.inner.NextDelay()
}
