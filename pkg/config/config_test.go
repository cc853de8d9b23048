package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironstar-dev/ironstar/pkg/config"
)

func TestFromEnv_AppliesDefaultsWhenUnset(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.MaxConflictRetries)
	assert.Equal(t, "beginning", cfg.SSEDefaultReplayFrom)
}

func TestFromEnv_RespectsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONFLICT_RETRIES", "7")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 7, cfg.MaxConflictRetries)
}

func TestFromEnv_RejectsUnparsableOverride(t *testing.T) {
	t.Setenv("MAX_CONFLICT_RETRIES", "not-a-number")

	_, err := config.FromEnv()
	require.Error(t, err)
}
