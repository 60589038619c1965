// Package dial implements the Delayed Connector: a single-fire, cancellable
// connect attempt toward one host and (when shard layout permits) one
// specific shard, plus the Reconnection Schedule that paces repeated
// attempts for the same pool slot.
package dial

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/scylladb-go/shardpool/config"
	"github.com/scylladb-go/shardpool/internal/codec"
	"github.com/scylladb-go/shardpool/internal/sharding"
	"github.com/scylladb-go/shardpool/internal/shardport"
	"github.com/scylladb-go/shardpool/pkg/lib/log"
)

var logger = log.Logger("dial")

// Result is what a connector reports to its callback exactly once.
type Result struct {
	Outcome Outcome
	Conn    net.Conn
	ShardID uint32 // the shard this connection actually landed on, once known
	Err     error

	// Descriptor is the sharding layout read back from this attempt's own
	// SUPPORTED frame, nil for an un-sharded host. A pool already knows its
	// host's layout by the time it schedules reconnects, but the first
	// control connection a Session opens is how that layout is discovered
	// in the first place.
	Descriptor *sharding.Descriptor

	// DesiredShard echoes the request so the pool can schedule a follow-up
	// attempt for the same slot without having to remember it separately.
	DesiredShard int
}

// Settings bundles the connect-time knobs a Connector needs; owned by the
// pool, shared across every connector it spawns.
type Settings struct {
	Host              string
	Port              int
	SSL               bool
	TLSConfig         *tls.Config
	ConnectTimeout    time.Duration
	Keyspace          string
	ShardAwarePort    int // 0 if host does not advertise one
	ShardAwarePortSSL int
	Descriptor        *sharding.Descriptor // nil if host is un-sharded
	Authenticator     config.Authenticator  // nil if the cluster has no auth configured

	// Clock paces the pre-connect delay. Left nil in production, where it
	// defaults to the real clock; tests inject a clock.Mock so a schedule's
	// backoff can be fast-forwarded instead of actually waited out.
	Clock clock.Clock
}

// Connector performs exactly one delayed connect attempt. Callers build a
// new Connector per attempt; the companion Schedule that paces repeated
// attempts for the same slot is owned by the pool, not the Connector.
type Connector struct {
	settings     Settings
	calc         *shardport.Calculator
	desiredShard int // -1 means "no preference"
	delay        time.Duration

	cancel context.CancelFunc
}

// NewConnector builds a connector for one attempt. desiredShard < 0 means
// the pool does not care which shard this lands on (un-sharded host, or a
// fallback attempt).
func NewConnector(settings Settings, calc *shardport.Calculator, desiredShard int, delay time.Duration) *Connector {
	return &Connector{settings: settings, calc: calc, desiredShard: desiredShard, delay: delay}
}

// Cancel interrupts a pending attempt. Safe to call before Run, during the
// delay, or after Run has already reported a result (a no-op then).
func (c *Connector) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Run performs the attempt and invokes onDone exactly once with the result.
// Run itself blocks until the attempt is finished; callers run it on its
// own goroutine.
func (c *Connector) Run(ctx context.Context, onDone func(Result)) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	if err := c.sleep(ctx); err != nil {
		onDone(Result{Outcome: OutcomeCanceled, Err: err, DesiredShard: c.desiredShard})
		return
	}

	conn, localPort, err := c.dial(ctx)
	if err != nil {
		if c.calc != nil && localPort != 0 {
			c.calc.Release(localPort)
		}
		onDone(Result{Outcome: Classify(err), Err: err, DesiredShard: c.desiredShard})
		return
	}

	shardID, descriptor, err := c.handshake(ctx, conn)
	if c.calc != nil && localPort != 0 {
		c.calc.Release(localPort)
	}
	if err != nil {
		conn.Close()
		onDone(Result{Outcome: Classify(err), Err: err, DesiredShard: c.desiredShard})
		return
	}
	if ctx.Err() != nil {
		// Canceled while the handshake was in flight: the handshake is
		// allowed to finish, then the socket is closed instead of handed over.
		conn.Close()
		onDone(Result{Outcome: OutcomeCanceled, Err: ErrCanceled, DesiredShard: c.desiredShard})
		return
	}

	logger.Debug("connect attempt succeeded", "host", c.settings.Host, "desiredShard", c.desiredShard, "actualShard", shardID)
	onDone(Result{Outcome: OutcomeOK, Conn: conn, ShardID: shardID, Descriptor: descriptor, DesiredShard: c.desiredShard})
}

func (c *Connector) sleep(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	clk := c.settings.Clock
	if clk == nil {
		clk = clock.New()
	}
	t := clk.Timer(c.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ErrCanceled
	}
}

// dial picks a destination per §4.C: the shard-aware port when the host has
// one and we have a desired shard, else a locally bound source port chosen
// by the shard-port calculator, else a plain unconstrained dial.
func (c *Connector) dial(ctx context.Context) (net.Conn, int, error) {
	dialer := &net.Dialer{Timeout: c.settings.ConnectTimeout}

	if port, ok := c.settings.Descriptor.HasShardAwarePort(c.settings.SSL); ok && c.desiredShard >= 0 {
		addr := net.JoinHostPort(c.settings.Host, fmt.Sprintf("%d", port))
		conn, err := c.dialAddr(ctx, dialer, addr)
		return conn, 0, err
	}

	if c.calc != nil && c.desiredShard >= 0 && c.settings.Descriptor != nil {
		if localPort, ok := c.calc.Calculate(c.settings.Descriptor.ShardCount(), uint32(c.desiredShard)); ok {
			dialer.LocalAddr = &net.TCPAddr{Port: localPort}
			addr := net.JoinHostPort(c.settings.Host, fmt.Sprintf("%d", c.settings.Port))
			conn, err := c.dialAddr(ctx, dialer, addr)
			return conn, localPort, err
		}
	}

	addr := net.JoinHostPort(c.settings.Host, fmt.Sprintf("%d", c.settings.Port))
	conn, err := c.dialAddr(ctx, dialer, addr)
	return conn, 0, err
}

func (c *Connector) dialAddr(ctx context.Context, dialer *net.Dialer, addr string) (net.Conn, error) {
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if c.settings.SSL {
		tlsConn := tls.Client(conn, c.settings.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		return tlsConn, nil
	}
	return conn, nil
}

// handshake performs OPTIONS/STARTUP and returns the shard this connection
// landed on plus the host's full sharding layout, both read back from the
// SUPPORTED frame. When the host is un-sharded, shard is 0 and descriptor is
// nil.
func (c *Connector) handshake(ctx context.Context, conn net.Conn) (uint32, *sharding.Descriptor, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if err := codec.WriteFrame(conn, 0, codec.OpOptions, codec.EncodeOptionsBody()); err != nil {
		return 0, nil, fmt.Errorf("write OPTIONS: %w", err)
	}
	supported, err := codec.ReadFrame(conn)
	if err != nil {
		return 0, nil, fmt.Errorf("read SUPPORTED: %w", err)
	}
	if supported.Header.Opcode != codec.OpSupported {
		return 0, nil, fmt.Errorf("%w: expected SUPPORTED, got opcode %#x", ErrProtocolVersion, supported.Header.Opcode)
	}
	options, err := codec.DecodeSupported(supported.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("decode SUPPORTED: %w", err)
	}

	var actualShard uint32
	var descriptor *sharding.Descriptor
	if res, ok := sharding.Parse(options); ok {
		actualShard = res.ShardID
		descriptor = res.Descriptor
	}

	startupOpts := map[string]string{"CQL_VERSION": "3.0.0"}
	if err := codec.WriteFrame(conn, 1, codec.OpStartup, codec.EncodeStartup(startupOpts)); err != nil {
		return 0, nil, fmt.Errorf("write STARTUP: %w", err)
	}
	reply, err := codec.ReadFrame(conn)
	if err != nil {
		return 0, nil, fmt.Errorf("read STARTUP reply: %w", err)
	}

	switch reply.Header.Opcode {
	case codec.OpReady:
		shard, err := c.selectKeyspace(conn, actualShard)
		return shard, descriptor, err
	case codec.OpAuthenticate:
		if c.settings.Authenticator == nil {
			return 0, nil, fmt.Errorf("%w: server requires authentication, no authenticator configured", ErrAuthRejected)
		}
		shard, err := c.authenticate(conn, actualShard)
		return shard, descriptor, err
	case codec.OpError:
		_, msg, _ := codec.DecodeErrorBody(reply.Body)
		return 0, nil, fmt.Errorf("%w: %s", ErrProtocolVersion, msg)
	default:
		return 0, nil, fmt.Errorf("%w: unexpected opcode %#x after STARTUP", ErrProtocolVersion, reply.Header.Opcode)
	}
}

// authenticate drives the AUTH_RESPONSE round trip against an authenticator
// that has already been selected by the caller (AUTHENTICATE names a class,
// but choosing among mechanisms is a collaborator's concern, not this
// package's). Only a single round is performed: AUTH_CHALLENGE continuation
// is out of scope.
func (c *Connector) authenticate(conn net.Conn, actualShard uint32) (uint32, error) {
	token, err := c.settings.Authenticator.InitialResponse()
	if err != nil {
		return 0, fmt.Errorf("%w: initial response: %s", ErrAuthRejected, err)
	}
	if err := codec.WriteFrame(conn, 2, codec.OpAuthResponse, codec.EncodeAuthResponse(token)); err != nil {
		return 0, fmt.Errorf("write AUTH_RESPONSE: %w", err)
	}
	reply, err := codec.ReadFrame(conn)
	if err != nil {
		return 0, fmt.Errorf("read auth reply: %w", err)
	}
	switch reply.Header.Opcode {
	case codec.OpAuthSuccess:
		return c.selectKeyspace(conn, actualShard)
	case codec.OpError:
		_, msg, _ := codec.DecodeErrorBody(reply.Body)
		return 0, fmt.Errorf("%w: %s", ErrAuthRejected, msg)
	default:
		return 0, fmt.Errorf("%w: unexpected opcode %#x during auth (AUTH_CHALLENGE continuation not supported)", ErrAuthRejected, reply.Header.Opcode)
	}
}

func (c *Connector) selectKeyspace(conn net.Conn, actualShard uint32) (uint32, error) {
	if c.settings.Keyspace == "" {
		return actualShard, nil
	}
	// The value codec that would build a proper QUERY body is out of scope;
	// USE <keyspace> is issued by the pool/session layer once the
	// connection is handed over, not by the connector itself.
	return actualShard, nil
}
