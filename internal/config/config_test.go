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

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLMModel)
	assert.Equal(t, 2, cfg.MaxIterations)
	assert.Equal(t, 70.0, cfg.AcceptConfidence)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 30, cfg.LLMRPM)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 256, cfg.StreamCapacity)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")
	t.Setenv("MAX_ITERATIONS", "4")
	t.Setenv("ACCEPT_CONFIDENCE", "85")
	t.Setenv("TOOL_TIMEOUT", "45s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SESSION_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "test-key", cfg.LLMAPIKey)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLMModel)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 85.0, cfg.AcceptConfidence)
	assert.Equal(t, 45*time.Second, cfg.ToolTimeout)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		env   string
		value string
	}{
		{"bad port", "PORT", "70000"},
		{"negative iterations", "MAX_ITERATIONS", "-1"},
		{"confidence above range", "ACCEPT_CONFIDENCE", "120"},
		{"zero timeout", "TOOL_TIMEOUT", "0s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
