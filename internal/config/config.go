package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries the service configuration, environment-first with
// recognized defaults. The iteration cap and acceptance threshold are
// deliberately configuration rather than constants.
type Config struct {
	Port int `mapstructure:"port"`

	// LLM provider
	LLMAPIKey string `mapstructure:"llm_api_key"`
	LLMModel  string `mapstructure:"llm_model"`

	// Search provider; an empty key silently activates the fallback
	// search provider.
	SearchAPIKey string `mapstructure:"search_api_key"`

	// Workflow policy
	MaxIterations    int     `mapstructure:"max_iterations"`
	AcceptConfidence float64 `mapstructure:"accept_confidence"`
	WeightsFile      string  `mapstructure:"weights_file"`

	// Tool gateway
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	LLMRPM      int           `mapstructure:"llm_rpm"`

	// Session registry; empty RedisAddr selects the in-memory store.
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`

	// Streaming
	StreamCapacity int `mapstructure:"stream_capacity"`

	// Tracing
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
}

// Load reads configuration from the environment with recognized defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8000)
	v.SetDefault("llm_model", "gemini-2.5-flash")
	v.SetDefault("max_iterations", 2)
	v.SetDefault("accept_confidence", 70.0)
	v.SetDefault("tool_timeout", 30*time.Second)
	v.SetDefault("llm_rpm", 30)
	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("stream_capacity", 256)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4317")

	v.AutomaticEnv()
	bindings := map[string]string{
		"port":              "PORT",
		"llm_api_key":       "GEMINI_API_KEY",
		"llm_model":         "GEMINI_MODEL",
		"search_api_key":    "TAVILY_API_KEY",
		"max_iterations":    "MAX_ITERATIONS",
		"accept_confidence": "ACCEPT_CONFIDENCE",
		"weights_file":      "STAGE_WEIGHTS_FILE",
		"tool_timeout":      "TOOL_TIMEOUT",
		"llm_rpm":           "LLM_RPM",
		"redis_addr":        "REDIS_ADDR",
		"redis_password":    "REDIS_PASSWORD",
		"session_ttl":       "SESSION_TTL",
		"stream_capacity":   "STREAMING_RING_CAPACITY",
		"tracing_enabled":   "TRACING_ENABLED",
		"otlp_endpoint":     "OTLP_ENDPOINT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be >= 0, got %d", c.MaxIterations)
	}
	if c.AcceptConfidence < 0 || c.AcceptConfidence > 100 {
		return fmt.Errorf("accept_confidence must be in [0,100], got %.2f", c.AcceptConfidence)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool_timeout must be positive, got %s", c.ToolTimeout)
	}
	return nil
}
