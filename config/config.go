// Package config holds the session-wide tunables for the shard-aware
// connection pool: contact points, per-host pool sizing, the local port
// range the shard-port calculator draws from, reconnect backoff, and the
// handful of timeouts that govern a connection's lifecycle.
//
// Config is built once via functional options and validated at
// construction, the same shape the teacher's swarm config uses.
package config

import (
	"crypto/tls"
	"fmt"
	"time"
)

// Config is immutable once built by New.
type Config struct {
	ContactPoints []string
	Port          int

	NumConnsPerHost int

	LocalPortRangeLo int
	LocalPortRangeHi int

	ReconnectBaseDelay Duration
	ReconnectMaxDelay  Duration

	ConnectTimeout    Duration
	HeartbeatInterval Duration
	IdleTimeout       Duration

	Keyspace string
	SSL      bool
	TLS      *tls.Config

	// Authenticator is left as an opaque hook: concrete SASL mechanisms are
	// out of scope for this driver's core.
	Authenticator Authenticator
}

//go:generate mockgen -destination=mocks/mock_authenticator.go -package=mocks github.com/scylladb-go/shardpool/config Authenticator

// Authenticator answers a server's AUTHENTICATE challenge. Concrete
// mechanisms (PasswordAuthenticator, etc.) are a collaborator's concern,
// not this package's.
type Authenticator interface {
	InitialResponse() ([]byte, error)
	EvaluateChallenge(challenge []byte) ([]byte, error)
}

// Default returns a Config with the same conservative defaults the original
// driver ships: a handful of connections per host, port range wide enough
// to avoid exhaustion under reconnect storms, and backoff tuned for a
// cluster that might be bouncing.
func Default() *Config {
	return &Config{
		Port:               9042,
		NumConnsPerHost:    4,
		LocalPortRangeLo:   49152,
		LocalPortRangeHi:   65535,
		ReconnectBaseDelay: Duration(2 * time.Second),
		ReconnectMaxDelay:  Duration(2 * time.Minute),
		ConnectTimeout:     Duration(5 * time.Second),
		HeartbeatInterval:  Duration(30 * time.Second),
		IdleTimeout:        Duration(2 * time.Minute),
	}
}

// Option mutates a Config under construction.
type Option func(*Config) error

// New builds and validates a Config from Default() plus the given options.
func New(opts ...Option) (*Config, error) {
	cfg := Default()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the pool and dialer rely on.
func (c *Config) Validate() error {
	if len(c.ContactPoints) == 0 {
		return fmt.Errorf("%w: no contact points", ErrInvalidConfig)
	}
	if c.NumConnsPerHost <= 0 {
		return fmt.Errorf("%w: NumConnsPerHost must be positive, got %d", ErrInvalidConfig, c.NumConnsPerHost)
	}
	if c.LocalPortRangeLo >= c.LocalPortRangeHi {
		return fmt.Errorf("%w: local port range [%d, %d) is empty or inverted", ErrInvalidConfig, c.LocalPortRangeLo, c.LocalPortRangeHi)
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay <= 0 {
		return fmt.Errorf("%w: reconnect delays must be positive", ErrInvalidConfig)
	}
	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("%w: ReconnectBaseDelay (%s) exceeds ReconnectMaxDelay (%s)", ErrInvalidConfig, c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: ConnectTimeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// WithContactPoints sets the addresses used to bootstrap the cluster's
// topology.
func WithContactPoints(points ...string) Option {
	return func(c *Config) error {
		c.ContactPoints = points
		return nil
	}
}

// WithPort sets the native-protocol port. The session joins this port to
// every contact point's address; a port written into a contact point is not
// honoured.
func WithPort(port int) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithNumConnsPerHost sets the target connection count per host, divided
// across shards when the host is sharded.
func WithNumConnsPerHost(n int) Option {
	return func(c *Config) error {
		c.NumConnsPerHost = n
		return nil
	}
}

// WithLocalPortRange sets the range the shard-port calculator draws
// candidate source ports from.
func WithLocalPortRange(lo, hi int) Option {
	return func(c *Config) error {
		c.LocalPortRangeLo = lo
		c.LocalPortRangeHi = hi
		return nil
	}
}

// WithReconnectPolicy sets the exponential-backoff base and cap used by
// every pool's Reconnection Schedule.
func WithReconnectPolicy(base, max time.Duration) Option {
	return func(c *Config) error {
		c.ReconnectBaseDelay = Duration(base)
		c.ReconnectMaxDelay = Duration(max)
		return nil
	}
}

// WithKeyspace sets the keyspace newly established connections select.
func WithKeyspace(ks string) Option {
	return func(c *Config) error {
		c.Keyspace = ks
		return nil
	}
}

// WithTLS enables TLS for all connections using the given config.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *Config) error {
		c.SSL = true
		c.TLS = tlsConfig
		return nil
	}
}

// WithAuthenticator sets the authenticator used for the AUTHENTICATE
// handshake, if the server requires one.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Config) error {
		c.Authenticator = a
		return nil
	}
}
