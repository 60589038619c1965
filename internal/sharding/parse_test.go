package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() map[string][]string {
	return map[string][]string{
		keyShard:             {"3"},
		keyShardCount:        {"8"},
		keyPartitioner:       {Partitioner},
		keyAlgorithm:         {Algorithm},
		keyIgnoreMSB:         {"12"},
		keyShardAwarePort:    {"19042"},
		keyShardAwarePortSSL: {"19142"},
	}
}

func TestParseFullyValid(t *testing.T) {
	res, ok := Parse(validOptions())
	require.True(t, ok)
	assert.Equal(t, uint32(3), res.ShardID)
	assert.Equal(t, 8, res.Descriptor.ShardsCount)
	assert.Equal(t, uint(12), res.Descriptor.IgnoreMSB)
	assert.Equal(t, 19042, res.Descriptor.ShardAwarePort)
	assert.Equal(t, 19142, res.Descriptor.ShardAwarePortSSL)
}

func TestParseMissingOptionalPorts(t *testing.T) {
	opts := validOptions()
	delete(opts, keyShardAwarePort)
	delete(opts, keyShardAwarePortSSL)
	res, ok := Parse(opts)
	require.True(t, ok)
	assert.Zero(t, res.Descriptor.ShardAwarePort)
	assert.Zero(t, res.Descriptor.ShardAwarePortSSL)
}

func TestParseRejectsWrongPartitioner(t *testing.T) {
	opts := validOptions()
	opts[keyPartitioner] = []string{"org.apache.cassandra.dht.RandomPartitioner"}
	_, ok := Parse(opts)
	assert.False(t, ok)
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	opts := validOptions()
	opts[keyAlgorithm] = []string{"something-else"}
	_, ok := Parse(opts)
	assert.False(t, ok)
}

func TestParseRejectsMissingRequiredKey(t *testing.T) {
	for _, key := range []string{keyShard, keyShardCount, keyPartitioner, keyAlgorithm, keyIgnoreMSB} {
		opts := validOptions()
		delete(opts, key)
		_, ok := Parse(opts)
		assert.False(t, ok, "expected rejection when %s is missing", key)
	}
}

func TestParseRejectsMultiValuedRequiredKey(t *testing.T) {
	opts := validOptions()
	opts[keyShardCount] = []string{"8", "16"}
	_, ok := Parse(opts)
	assert.False(t, ok)
}

func TestParseIsAllOrNothingNoPartialDescriptor(t *testing.T) {
	opts := validOptions()
	opts[keyShardCount] = []string{"not-a-number"}
	_, ok := Parse(opts)
	assert.False(t, ok)
}

func TestAtoiLeniency(t *testing.T) {
	cases := map[string]int{
		"42":      42,
		"  42":    42,
		"+42":     42,
		"42abc":   42,
		"abc":     0,
		"":        0,
		"   +007": 7,
	}
	for in, want := range cases {
		assert.Equal(t, want, atoi(in), "atoi(%q)", in)
	}
}
