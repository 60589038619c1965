// Package session is the driver's top-level entry point. Connect resolves a
// Config's contact points, opens a shard-aware Pool on every reachable
// host, and hands back a Session that dispatches requests to whichever
// connection best matches a request's partition token. Encoding query text
// and bind values into a request body, and decoding rows back out of a
// response, is a collaborator's job — this package only carries frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jbenet/goprocess"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/raulk/go-watchdog"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/singleflight"

	"github.com/scylladb-go/shardpool/config"
	"github.com/scylladb-go/shardpool/internal/codec"
	"github.com/scylladb-go/shardpool/internal/dial"
	"github.com/scylladb-go/shardpool/internal/metrics"
	"github.com/scylladb-go/shardpool/internal/pool"
	"github.com/scylladb-go/shardpool/internal/shardport"
	"github.com/scylladb-go/shardpool/internal/token"
	"github.com/scylladb-go/shardpool/internal/topology"
	"github.com/scylladb-go/shardpool/pkg/lib/log"
)

var logger = log.Logger("session")

var (
	// ErrNoHostAvailable means every known host is currently marked down.
	ErrNoHostAvailable = errors.New("session: no host available")
	// ErrNoConnectionAvailable means a host was chosen but none of its
	// connections are usable right now (all closing, or none placed yet).
	ErrNoConnectionAvailable = errors.New("session: no connection available on chosen host")
)

// maxStreamID keeps allocated stream ids within the native protocol's
// signed 16-bit range.
const maxStreamID = 1<<15 - 1

// watchdogHeapLimit is the heap size above which the memory watchdog starts
// pressuring the Go runtime into more aggressive GC, a cheap guard against
// an application embedding this driver leaking prepared-statement cache
// entries or connections under a control-connection flap storm.
const watchdogHeapLimit = 512 << 20

// watchdogMinGOGC is the floor HeapDriven will not push GOGC below while
// adapting it to heap pressure, so a burst under the limit can't make GC
// pathologically aggressive.
const watchdogMinGOGC = 50

// Statement is a prepared statement's server-assigned id, cached by query
// text so a repeated ExecutePrepared call doesn't need to re-derive it.
type Statement struct {
	ID    []byte
	Query string
}

// Session is a live handle on a cluster: one Pool per reachable host, a
// shard-port Calculator shared across all of them, and the round-robin
// state used to pick a host for a request with no partition-key affinity.
type Session struct {
	id  uuid.UUID
	cfg *config.Config

	registry *topology.Registry
	calc     *shardport.Calculator
	metrics  *metrics.Registry
	prepared *lru.Cache[string, *Statement]

	mu    sync.RWMutex
	pools map[string]*pool.Pool

	// connectGroup collapses concurrent connectHost calls for the same host
	// (two contact points that both resolve to it, or a retried resolve) into
	// one dial attempt.
	connectGroup singleflight.Group

	rrMu  sync.Mutex
	rrIdx int

	nextStream atomic.Int32

	proc         goprocess.Process
	stopWatchdog func()

	closeOnce sync.Once
}

// Connect resolves cfg's contact points, opens a control connection and a
// full Pool on every reachable one, and starts the background heartbeat
// loop. At least one contact point must succeed; failures on the others are
// logged, not returned, once any pool exists — a cluster bootstrapping off
// one live seed is the normal case, not an error.
func Connect(ctx context.Context, cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prepared, err := lru.New[string, *Statement](256)
	if err != nil {
		return nil, fmt.Errorf("build prepared-statement cache: %w", err)
	}

	s := &Session{
		id:       uuid.New(),
		cfg:      cfg,
		registry: topology.NewRegistry(),
		calc:     shardport.New(cfg.LocalPortRangeLo, cfg.LocalPortRangeHi),
		metrics:  metrics.New(prometheus.NewRegistry()),
		prepared: prepared,
		pools:    make(map[string]*pool.Pool),
	}

	var errs error
	for _, cp := range cfg.ContactPoints {
		if err := s.connectContactPoint(ctx, cp); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if len(s.pools) == 0 {
		return nil, fmt.Errorf("connect: no contact point reachable: %w", errs)
	}
	if errs != nil {
		logger.Warn("some contact points were unreachable", "err", errs)
	}

	s.startBackgroundLoop()
	return s, nil
}

func (s *Session) connectContactPoint(ctx context.Context, cp string) error {
	addrs, err := topology.ResolveContactPoint(ctx, cp, "")
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cp, err)
	}

	var errs error
	connected := false
	for _, addr := range addrs {
		if err := s.connectHost(ctx, addr); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		connected = true
	}
	if !connected {
		return errs
	}
	return nil
}

func (s *Session) connectHost(ctx context.Context, addr string) error {
	hostKey := net.JoinHostPort(addr, strconv.Itoa(s.cfg.Port))

	_, err, _ := s.connectGroup.Do(hostKey, func() (interface{}, error) {
		return nil, s.dialAndRegisterHost(ctx, hostKey, addr)
	})
	return err
}

func (s *Session) dialAndRegisterHost(ctx context.Context, hostKey, addr string) error {
	s.mu.RLock()
	_, exists := s.pools[hostKey]
	s.mu.RUnlock()
	if exists {
		return nil
	}

	settings := dial.Settings{
		Host:           addr,
		Port:           s.cfg.Port,
		SSL:            s.cfg.SSL,
		TLSConfig:      s.cfg.TLS,
		ConnectTimeout: s.cfg.ConnectTimeout.Duration(),
		Keyspace:       s.cfg.Keyspace,
		Authenticator:  s.cfg.Authenticator,
	}

	connector := dial.NewConnector(settings, nil, -1, 0)
	var result dial.Result
	connector.Run(ctx, func(r dial.Result) { result = r })
	if result.Outcome != dial.OutcomeOK {
		return fmt.Errorf("control connection: %w", result.Err)
	}

	host := topology.NewHost(hostKey, "", "")
	host.SetDescriptor(result.Descriptor)
	s.registry.Add(host)

	if result.Descriptor != nil {
		settings.ShardAwarePort = result.Descriptor.ShardAwarePort
		settings.ShardAwarePortSSL = result.Descriptor.ShardAwarePortSSL
	}
	settings.Descriptor = result.Descriptor

	seed := pool.NewConn(result.Conn, result.ShardID)
	p := pool.New(hostKey, result.Descriptor, []*pool.Conn{seed}, s, s.calc, s.metrics, pool.Settings{
		NumConnectionsPerHost: s.cfg.NumConnsPerHost,
		ReconnectBaseDelay:    s.cfg.ReconnectBaseDelay.Duration(),
		ReconnectMaxDelay:     s.cfg.ReconnectMaxDelay.Duration(),
		ConnectSettings:       settings,
		Keyspace:              s.cfg.Keyspace,
	})

	s.mu.Lock()
	s.pools[hostKey] = p
	s.mu.Unlock()
	return nil
}

func (s *Session) startBackgroundLoop() {
	s.proc = goprocess.Go(func(proc goprocess.Process) {
		interval := s.cfg.HeartbeatInterval.Duration()
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.heartbeatAll()
			case <-proc.Closing():
				return
			}
		}
	})

	err, stop := watchdog.HeapDriven(watchdogHeapLimit, watchdogMinGOGC, watchdog.NewAdaptivePolicy(0.5))
	if err != nil {
		logger.Warn("heap watchdog unavailable", "err", err)
		return
	}
	s.stopWatchdog = stop
}

func (s *Session) heartbeatAll() {
	for _, p := range s.snapshotPools() {
		p.Heartbeat(s.cfg.IdleTimeout.Duration())
	}
}

func (s *Session) snapshotPools() []*pool.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Values(s.pools)
}

// TokenForKey computes the partition token FindLeastBusy dispatch expects
// from a raw partition key, using the cluster's Murmur3Partitioner.
func TokenForKey(partitionKey []byte) int64 {
	return token.Murmur3(partitionKey)
}

// Close shuts down the background loop and every pool. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.proc != nil {
			s.proc.Close()
		}
		if s.stopWatchdog != nil {
			s.stopWatchdog()
		}
		for _, p := range s.snapshotPools() {
			p.Close()
		}
		s.mu.Lock()
		s.pools = nil
		s.mu.Unlock()
	})
	return nil
}

// roundRobinPool picks the next up host in address order, wrapping around.
// Cross-host replica placement (which host owns a token) needs a full token
// ring built from cluster system tables, out of scope per the topology
// package; a request's token is only used for intra-host shard dispatch,
// once a host has already been chosen this way.
func (s *Session) roundRobinPool() *pool.Pool {
	ups := s.registry.Up()
	if len(ups) == 0 {
		return nil
	}
	sort.Slice(ups, func(i, j int) bool { return ups[i].Address < ups[j].Address })

	s.rrMu.Lock()
	idx := s.rrIdx % len(ups)
	s.rrIdx++
	s.rrMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pools[ups[idx].Address]
}

func (s *Session) send(opcode codec.Opcode, body []byte, tok *int64) error {
	p := s.roundRobinPool()
	if p == nil {
		return ErrNoHostAvailable
	}
	conn := p.FindLeastBusy(tok)
	if conn == nil {
		return ErrNoConnectionAvailable
	}
	stream := int16(s.nextStream.Add(1) % maxStreamID)
	conn.Write(codec.EncodeFrame(stream, opcode, body))
	return nil
}

// ExecuteSimple sends body as a QUERY frame's payload. body is the caller's
// own encoding of query text plus any bind values.
func (s *Session) ExecuteSimple(body []byte, tok *int64) error {
	return s.send(codec.OpQuery, body, tok)
}

// Prepare sends a PREPARE frame for query. The server's RESULT (Prepared)
// response carries the statement id this request needs matched back to
// it — reading and pairing responses is the (out-of-scope) frame-reader
// loop's job. A caller that has obtained the id that way should record it
// with RegisterPrepared.
func (s *Session) Prepare(query string) error {
	return s.send(codec.OpPrepare, codec.EncodeLongString(query), nil)
}

// RegisterPrepared caches a server-assigned prepared-statement id against
// its query text.
func (s *Session) RegisterPrepared(query string, id []byte) {
	s.prepared.Add(query, &Statement{ID: id, Query: query})
}

// LookupPrepared returns the cached statement for query, if Prepare's
// response has already been recorded via RegisterPrepared.
func (s *Session) LookupPrepared(query string) (*Statement, bool) {
	return s.prepared.Get(query)
}

// ExecutePrepared sends an EXECUTE frame naming stmt's id, with body as the
// caller's own encoding of its bind values.
func (s *Session) ExecutePrepared(stmt *Statement, body []byte, tok *int64) error {
	frameBody := append(codec.EncodeShortBytes(stmt.ID), body...)
	return s.send(codec.OpExecute, frameBody, tok)
}

// ExecuteBatch sends body as a BATCH frame's payload. body is the caller's
// own encoding of the batch's query list, types, and values.
func (s *Session) ExecuteBatch(body []byte, tok *int64) error {
	return s.send(codec.OpBatch, body, tok)
}

// Hosts returns every host this session currently knows about.
func (s *Session) Hosts() []*topology.Host {
	return s.registry.All()
}

// ID identifies this Session instance in logs and metrics, so multiple
// Sessions in one process can be told apart without comparing pointers.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// pool.Listener implementation: Session tracks host liveness in its
// Registry and drives each pool's Flush from the same place notified.

func (s *Session) OnPoolUp(host string) {
	if h, ok := s.registry.Get(host); ok {
		h.SetUp(true)
	}
	logger.Info("host up", "host", host)
}

func (s *Session) OnPoolDown(host string) {
	if h, ok := s.registry.Get(host); ok {
		h.SetUp(false)
	}
	logger.Warn("host down", "host", host)
}

func (s *Session) OnPoolCriticalError(host string, code uint32, message string) {
	logger.Error("pool critical error", "session", s.id, "host", host, "code", code, "message", message)
}

func (s *Session) OnRequiresFlush(p *pool.Pool) {
	p.Flush()
}

func (s *Session) OnClose(p *pool.Pool) {
	logger.Debug("pool closed", "pool", p.String())
}
