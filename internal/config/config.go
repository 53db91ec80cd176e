package config

import (
	"os"
	"strconv"
	"time"

	"rapport/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	ActorStore  ActorStoreConfig `validate:"required"`
	Mirror      MirrorConfig     `validate:"required"`
	Inference   InferenceConfig
	Server      ServerConfig `validate:"required"`
	Session     SessionConfig
	Aggregation AggregationConfig
}

// ActorStoreConfig holds settings for the durable session store
type ActorStoreConfig struct {
	Path string `validate:"required"`
}

// MirrorConfig holds settings for the analytics mirror database
type MirrorConfig struct {
	DatabaseURL  string `validate:"required"`
	MaxAttempts  int
	RetryBackoff time.Duration
}

// InferenceConfig holds LLM related settings. An empty key selects the
// built-in heuristic responder instead of the OpenAI client.
type InferenceConfig struct {
	OpenAIKey   string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ServerConfig holds web server settings
type ServerConfig struct {
	GatewayPort   string `validate:"required"`
	DashboardPort string
	GinMode       string
}

// SessionConfig holds live session lifecycle settings
type SessionConfig struct {
	IdleTTL         time.Duration
	JanitorInterval time.Duration
}

// AggregationConfig holds progress aggregation settings
type AggregationConfig struct {
	MaxRetries int
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	mirrorConfig, err := loadMirrorConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load mirror configuration")
	}
	config.Mirror = *mirrorConfig

	config.ActorStore = *loadActorStoreConfig()
	config.Inference = *loadInferenceConfig()
	config.Server = *loadServerConfig()
	config.Session = *loadSessionConfig()
	config.Aggregation = *loadAggregationConfig()

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadActorStoreConfig() *ActorStoreConfig {
	return &ActorStoreConfig{
		Path: getEnvOrDefault("SESSION_DB_PATH", "rapport.db"),
	}
}

func loadMirrorConfig() (*MirrorConfig, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	return &MirrorConfig{
		DatabaseURL:  url,
		MaxAttempts:  getEnvIntOrDefault("MIRROR_MAX_ATTEMPTS", 3),
		RetryBackoff: getEnvDurationOrDefault("MIRROR_RETRY_BACKOFF", 250*time.Millisecond),
	}, nil
}

func loadInferenceConfig() *InferenceConfig {
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini" // default
	}

	return &InferenceConfig{
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		Model:       model,
		BaseURL:     getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
		MaxTokens:   getEnvIntOrDefault("MAX_TOKENS", 1024),
		Temperature: getEnvFloatOrDefault("TEMPERATURE", 0.7),
		Timeout:     getEnvDurationOrDefault("LLM_TIMEOUT", 30*time.Second),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		GatewayPort:   getEnvOrDefault("PORT", "8080"),
		DashboardPort: getEnvOrDefault("DASHBOARD_PORT", "8081"),
		GinMode:       getEnvOrDefault("GIN_MODE", "debug"),
	}
}

func loadSessionConfig() *SessionConfig {
	return &SessionConfig{
		IdleTTL:         getEnvDurationOrDefault("SESSION_IDLE_TTL", 30*time.Minute),
		JanitorInterval: getEnvDurationOrDefault("SESSION_JANITOR_INTERVAL", 5*time.Minute),
	}
}

func loadAggregationConfig() *AggregationConfig {
	return &AggregationConfig{
		MaxRetries: getEnvIntOrDefault("AGGREGATION_MAX_RETRIES", 5),
	}
}

func validateConfig(config *Config) error {
	if config.Mirror.DatabaseURL == "" {
		return errors.ConfigInvalid("mirror database URL is required")
	}
	if config.ActorStore.Path == "" {
		return errors.ConfigInvalid("session store path is required")
	}
	if config.Mirror.MaxAttempts < 1 {
		return errors.ConfigInvalid("mirror max attempts must be at least 1")
	}
	if config.Aggregation.MaxRetries < 1 {
		return errors.ConfigInvalid("aggregation max retries must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
