package pool

// Close is idempotent: only the first call does anything. It closes every
// live connection and cancels every pending connector, then returns; it does
// not wait. The pool reaches StateClosed later, in maybeClosed, once the
// canceled connectors' completion callbacks have run.
func (p *Pool) Close() {
	p.run(func() { p.beginClose() })
}

// beginClose is internal_close in the original: OPEN -> CLOSING, close
// every connection and cancel every pending attempt (copying both
// containers first since removeConn mutates connsByShard mid-iteration),
// then CLOSING -> WAITING_FOR_CONNECTIONS.
func (p *Pool) beginClose() {
	if p.closeState != StateOpen {
		return
	}
	p.closeState = StateClosing

	var toClose []*Conn
	for _, shard := range p.connsByShard {
		toClose = append(toClose, shard...)
	}
	toCancel := make([]*pendingAttempt, 0, len(p.pending))
	for attempt := range p.pending {
		toCancel = append(toCancel, attempt)
	}

	for _, c := range toClose {
		c.closeQuiet()
		p.removeConn(c)
	}
	for _, attempt := range toCancel {
		attempt.cancel()
	}

	p.closeState = StateWaitingForConnections
	p.maybeClosed()
}

// maybeClosed checks the terminal condition: WAITING_FOR_CONNECTIONS, no
// live connections, no pending attempts. On the transition it emits DOWN
// (only if the pool was UP — NEW/DOWN/CRITICAL never get a spurious DOWN)
// followed by on_close, then marks CLOSED. Safe to call repeatedly; only
// fires the terminal transition once.
func (p *Pool) maybeClosed() {
	if p.closeState != StateWaitingForConnections {
		return
	}
	if p.totalLive() > 0 || len(p.pending) > 0 {
		return
	}
	p.closeState = StateClosed
	if p.notifyState == NotifyUp {
		p.notifyState = NotifyDown
		if p.listener != nil {
			go p.listener.OnPoolDown(p.host)
		}
	}
	if p.listener != nil {
		go p.listener.OnClose(p)
	}
	close(p.loopDone)
}

// CloseState reports the pool's current shutdown state; mainly for tests
// and diagnostics. Once the event loop has exited the pool is closed, which
// is what run skipping fn means here.
func (p *Pool) CloseState() CloseState {
	s := StateClosed
	p.run(func() { s = p.closeState })
	return s
}

// NotifyState reports the pool's current liveness-notification state.
func (p *Pool) NotifyState() NotifyState {
	var s NotifyState
	ran := false
	p.run(func() { s, ran = p.notifyState, true })
	if !ran {
		// The loop has exited; the state it last wrote is final.
		p.wg.Wait()
		s = p.notifyState
	}
	return s
}
