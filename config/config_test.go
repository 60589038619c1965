package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyContactPoints(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNewRejectsNonPositiveNumConns(t *testing.T) {
	_, err := New(WithContactPoints("127.0.0.1"), WithNumConnsPerHost(0))
	require.Error(t, err)
}

func TestNewRejectsInvertedPortRange(t *testing.T) {
	_, err := New(WithContactPoints("127.0.0.1"), WithLocalPortRange(20000, 10000))
	require.Error(t, err)
}

func TestNewAppliesOptions(t *testing.T) {
	cfg, err := New(
		WithContactPoints("10.0.0.1", "10.0.0.2"),
		WithPort(19042),
		WithNumConnsPerHost(8),
		WithKeyspace("app"),
		WithReconnectPolicy(time.Second, time.Minute),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.ContactPoints)
	assert.Equal(t, 19042, cfg.Port)
	assert.Equal(t, 8, cfg.NumConnsPerHost)
	assert.Equal(t, "app", cfg.Keyspace)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay.Duration())
}

func TestDefaultIsValidOnceContactPointsAreSet(t *testing.T) {
	cfg := Default()
	cfg.ContactPoints = []string{"127.0.0.1"}
	assert.NoError(t, cfg.Validate())
}
