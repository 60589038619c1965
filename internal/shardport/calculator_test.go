package shardport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateSatisfiesRangeAndResidue(t *testing.T) {
	c := New(10000, 10100)
	for shardCount := 1; shardCount <= 64; shardCount++ {
		for desired := uint32(0); int(desired) < shardCount; desired++ {
			p, ok := c.Calculate(shardCount, desired)
			if !ok {
				continue
			}
			assert.GreaterOrEqual(t, p, 10000)
			assert.Less(t, p, 10100)
			assert.Equal(t, int(desired), p%shardCount)
			c.Release(p)
		}
	}
}

func TestCalculateConcreteExample(t *testing.T) {
	c := New(10000, 10100)
	p, ok := c.Calculate(8, 3)
	require.True(t, ok)
	assert.Contains(t, []int{10003, 10011, 10019, 10027, 10035, 10043, 10051, 10059, 10067, 10075, 10083, 10091}, p)
}

func TestCalculateDoesNotReuseInFlightPort(t *testing.T) {
	c := New(10000, 10020) // three candidates for shardCount=8, desired=3: 10003, 10011, 10019
	first, ok := c.Calculate(8, 3)
	require.True(t, ok)
	second, ok := c.Calculate(8, 3)
	require.True(t, ok)
	assert.NotEqual(t, first, second)
	third, ok := c.Calculate(8, 3)
	require.True(t, ok)
	assert.NotEqual(t, first, third)
	assert.NotEqual(t, second, third)
	_, ok = c.Calculate(8, 3)
	assert.False(t, ok, "range exhausted, should report no preference")
}

func TestReleaseFreesPortForReuse(t *testing.T) {
	c := New(10000, 10011) // single candidate 10003 for shardCount=8 desired=3
	p, ok := c.Calculate(8, 3)
	require.True(t, ok)
	_, ok = c.Calculate(8, 3)
	assert.False(t, ok)
	c.Release(p)
	_, ok = c.Calculate(8, 3)
	assert.True(t, ok)
}
