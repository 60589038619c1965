// Package token computes Cassandra/Murmur3Partitioner tokens from partition
// keys. The Connection Pool and Connection Dispatch logic never compute a
// token themselves — they consume an int64 — but something upstream of them
// has to produce one, and this is that something.
package token

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Murmur3 hashes a partition key the same way Cassandra's Murmur3Partitioner
// does: a 128-bit x64 Murmur3 hash seeded at zero, keeping the signed low 64
// bits as the token. The partitioner reserves math.MinInt64 as a ring
// sentinel, so a key that happens to hash to exactly that value is nudged up
// by one.
func Murmur3(partitionKey []byte) int64 {
	h1, _ := murmur3.Sum128(partitionKey)
	t := int64(h1)
	if t == math.MinInt64 {
		t++
	}
	return t
}
