package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 50051, cfg.GRPCPort)
	assert.Equal(t, 120*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 10000, cfg.QueueDepthLimit)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GRPC_PORT", "7777")
	t.Setenv("HEARTBEAT_TIMEOUT_MS", "60000")
	t.Setenv("QUEUE_DEPTH_LIMIT", "50")
	t.Setenv("SESSION_IDLE_TIMEOUT", "2m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 7777, cfg.GRPCPort)
	assert.Equal(t, time.Minute, cfg.HeartbeatTimeout)
	assert.Equal(t, 50, cfg.QueueDepthLimit)
	assert.Equal(t, 2*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "not-a-number"},
		{"GRPC_TLS_ENABLED", "maybe"},
		{"GRPC_KEEPALIVE_TIME", "fast"},
		{"HEARTBEAT_TIMEOUT_MS", "2m"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("short jwt secret rejected", func(t *testing.T) {
		cfg := Defaults
		cfg.JWTSecret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("tls requires cert and key", func(t *testing.T) {
		cfg := Defaults
		cfg.GRPCTLSEnabled = true
		assert.Error(t, cfg.Validate())
	})

	t.Run("defaults valid", func(t *testing.T) {
		cfg := Defaults
		assert.NoError(t, cfg.Validate())
	})
}
