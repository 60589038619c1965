package dial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleGrowsExponentiallyUpToCap(t *testing.T) {
	s := &exponentialSchedule{base: 100 * time.Millisecond, max: 2 * time.Second, rand: func() float64 { return 0.5 }} // jitter pinned to 1.0
	got := make([]time.Duration, 6)
	for i := range got {
		got[i] = s.NextDelay()
	}
	require.Equal(t, 100*time.Millisecond, got[0])
	require.Equal(t, 200*time.Millisecond, got[1])
	require.Equal(t, 400*time.Millisecond, got[2])
	require.Equal(t, 800*time.Millisecond, got[3])
	require.Equal(t, 1600*time.Millisecond, got[4])
	require.Equal(t, 2*time.Second, got[5]) // capped
}

func TestScheduleJitterWithinBounds(t *testing.T) {
	s := NewSchedule(1*time.Second, 10*time.Second)
	for i := 0; i < 100; i++ {
		d := s.NextDelay()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 10*time.Second+1500*time.Millisecond) // cap times the maximum jitter factor of 1.15
	}
}

func TestScheduleIndependentPerInstance(t *testing.T) {
	a := NewSchedule(100*time.Millisecond, time.Second)
	b := NewSchedule(100*time.Millisecond, time.Second)
	a.NextDelay()
	a.NextDelay()
	firstOfB := b.NextDelay()
	assert.LessOrEqual(t, firstOfB, 130*time.Millisecond, "b's first call must not be affected by a's call count")
}
