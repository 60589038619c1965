// Package sharding carries a host's shard-layout parameters and computes the
// shard that owns a given partition token.
//
// The math mirrors org.apache.cassandra.dht.Murmur3Partitioner's own shard
// reduction: remap the signed token into unsigned space, left-shift away the
// bits the server was told to ignore, then take the upper 64 bits of the
// 128-bit product with the shard count.
package sharding

import (
	"math/bits"
)

// Partitioner and Algorithm are the only values a server may advertise; any
// other value means the host has no usable sharding descriptor at all.
const (
	Partitioner = "org.apache.cassandra.dht.Murmur3Partitioner"
	Algorithm   = "biased-token-round-robin"
)

// Descriptor is a host's advertised shard-layout. Zero value is not valid;
// construct one only via Parse.
type Descriptor struct {
	ShardsCount      int
	IgnoreMSB        uint
	ShardAwarePort   int // 0 if not advertised
	ShardAwarePortSSL int // 0 if not advertised
}

// ShardCount returns the descriptor's shard count, or 1 if d is nil (an
// un-sharded host behaves as if it had exactly one shard).
func (d *Descriptor) ShardCount() int {
	if d == nil || d.ShardsCount <= 0 {
		return 1
	}
	return d.ShardsCount
}

// HasShardAwarePort reports whether the host advertises a dedicated port
// (plain or SSL) that routes incoming connections by source port number.
func (d *Descriptor) HasShardAwarePort(ssl bool) (int, bool) {
	if d == nil {
		return 0, false
	}
	if ssl {
		return d.ShardAwarePortSSL, d.ShardAwarePortSSL != 0
	}
	return d.ShardAwarePort, d.ShardAwarePort != 0
}

// ShardID computes which shard owns the given partition token.
//
// u is the token remapped into unsigned 64-bit space so its unsigned
// ordering matches the token's signed ordering, then shifted left by
// IgnoreMSB bits. The shard is the upper 64 bits of the unsigned 128-bit
// product of u and the shard count, computed with bits.Mul64 to avoid a
// big.Int allocation on the hot dispatch path. That value is always below
// the shard count, so it fits in a uint32.
func (d *Descriptor) ShardID(token int64) uint32 {
	n := uint64(d.ShardCount())
	if n == 1 {
		return 0
	}
	u := uint64(token) + (1 << 63)
	u <<= d.shiftBits()

	hi, lo := bits.Mul64(u, n)
	_ = lo
	return uint32(hi)
}

func (d *Descriptor) shiftBits() uint {
	if d == nil {
		return 0
	}
	return d.IgnoreMSB
}
