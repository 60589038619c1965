// Package topology tracks the hosts a Session knows about: their address,
// advertised sharding layout, and up/down status. Populating it from the
// control connection's system tables — full gossip and topology-event
// handling — is out of scope; this package only carries what the
// Connection Pool's constructor needs to read.
package topology

import (
	"sync"
	"sync/atomic"

	"github.com/scylladb-go/shardpool/internal/sharding"
)

// Host identifies one cluster node and carries whatever sharding layout it
// has advertised, if any.
type Host struct {
	Address    string
	Datacenter string
	Rack       string

	descriptor atomic.Pointer[sharding.Descriptor]
	up         atomic.Bool
}

// NewHost builds a Host initially marked up with no known sharding
// descriptor; SetDescriptor is called once the control connection has read
// its SUPPORTED frame.
func NewHost(address, datacenter, rack string) *Host {
	h := &Host{Address: address, Datacenter: datacenter, Rack: rack}
	h.up.Store(true)
	return h
}

// Descriptor returns the host's sharding layout, or nil if it is un-sharded
// or hasn't been probed yet.
func (h *Host) Descriptor() *sharding.Descriptor {
	return h.descriptor.Load()
}

// SetDescriptor records the host's sharding layout, learned from its
// control connection's SUPPORTED frame.
func (h *Host) SetDescriptor(d *sharding.Descriptor) {
	h.descriptor.Store(d)
}

// IsUp reports the host's last-known liveness, as driven by its pool's
// notify_state transitions.
func (h *Host) IsUp() bool { return h.up.Load() }

// SetUp updates the host's liveness flag.
func (h *Host) SetUp(up bool) { h.up.Store(up) }

// Registry is the set of hosts a Session currently knows about.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]*Host
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]*Host)}
}

// Add inserts or replaces the host at its address.
func (r *Registry) Add(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[h.Address] = h
}

// Remove drops a host by address.
func (r *Registry) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, address)
}

// Get looks up a host by address.
func (r *Registry) Get(address string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[address]
	return h, ok
}

// All returns a snapshot of every known host.
func (r *Registry) All() []*Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}

// Up returns a snapshot of every host currently marked up.
func (r *Registry) Up() []*Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		if h.IsUp() {
			out = append(out, h)
		}
	}
	return out
}
