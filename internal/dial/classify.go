package dial

import (
	"context"
	"errors"
	"net"

	temperrcatcher "github.com/jbenet/go-temp-err-catcher"
)

// Outcome is one of the four terminal results a Delayed Connector can report
// for a single attempt.
type Outcome int

const (
	// OutcomeOK means the connection is live and handed to the pool.
	OutcomeOK Outcome = iota
	// OutcomeCanceled means the attempt was interrupted by a pool close.
	OutcomeCanceled
	// OutcomeTransient means the attempt failed in a way worth retrying:
	// connection refused, timeout. The pool reuses the same backoff schedule
	// and tries again. (A server that places us on an already-full shard
	// reports OutcomeOK; the pool itself then drops and retries.)
	OutcomeTransient
	// OutcomeCritical means the attempt failed in a way retrying cannot
	// fix: protocol version mismatch, authentication rejection. The pool
	// stops trying and begins closing.
	OutcomeCritical
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeTransient:
		return "transient"
	case OutcomeCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classify decides whether err, surfaced anywhere during a connect attempt,
// should be treated as canceled, transient or critical. context.Canceled
// and ErrCanceled map to OutcomeCanceled.
//
// temperrcatcher.ErrIsTemporary covers the net.Error-shaped and
// syscall-shaped cases (refused, reset, timeout) the same way it does for a
// plain TCP dialer; the two sentinel errors this package defines for
// handshake-level rejections are the only cases classified critical, and
// every other error is transient.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled) {
		return OutcomeCanceled
	}
	if errors.Is(err, ErrProtocolVersion) || errors.Is(err, ErrAuthRejected) {
		return OutcomeCritical
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeTransient
	}
	if temperrcatcher.ErrIsTemporary(err) {
		return OutcomeTransient
	}
	return OutcomeTransient
}
