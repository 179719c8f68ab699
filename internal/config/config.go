// Package config loads runtime configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifies a language-model backend.
type Provider string

const (
	ProviderGoogleAI  Provider = "googleai"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderBedrock   Provider = "bedrock"
)

// Persistence backends.
const (
	StoreSurrealDB = "surrealdb"
	StorePostgres  = "postgres"
)

// Fetch modes.
const (
	FetchBrowser = "browser"
	FetchHTTP    = "http"
)

// Config holds all configuration values.
type Config struct {
	// Persistence
	Store string

	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	DatabaseURL string
	PGMaxConns  int

	// Per-competitor locking; empty means in-process locks only
	RedisURL string
	LockTTL  time.Duration

	// Language model
	LLMProvider     Provider
	LLMModel        string
	GoogleAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string
	AWSRegion       string

	// Fetch stage
	FetchMode      string
	FetchTimeout   time.Duration
	FetchSettle    time.Duration
	FetchRetries   int
	FetchUserAgent string
	DumpDir        string

	// Interpretation stage
	InterpretMaxChars int

	// Worker
	WorkerMaxInFlight int
	WorkerQueueDepth  int
	MetricsAddr       string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Store: strings.ToLower(getEnv("PRICEWATCH_STORE", StoreSurrealDB)),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "pricewatch"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "pricing"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		PGMaxConns:  getEnvInt("PG_MAX_CONNS", 8),

		RedisURL: getEnv("REDIS_URL", ""),
		LockTTL:  getEnvDuration("LOCK_TTL", 10*time.Minute),

		LLMProvider:     Provider(strings.ToLower(getEnv("LLM_PROVIDER", string(ProviderGoogleAI)))),
		LLMModel:        getEnv("LLM_MODEL", "gemini-2.0-flash"),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		FetchMode:      strings.ToLower(getEnv("FETCH_MODE", FetchBrowser)),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 120*time.Second),
		FetchSettle:    getEnvDuration("FETCH_SETTLE", 5*time.Second),
		FetchRetries:   getEnvInt("FETCH_RETRIES", 2),
		FetchUserAgent: getEnv("FETCH_USER_AGENT", ""),
		DumpDir:        getEnv("PRICEWATCH_DUMP_DIR", ""),

		InterpretMaxChars: getEnvInt("INTERPRET_MAX_CHARS", 30000),

		WorkerMaxInFlight: getEnvInt("WORKER_MAX_IN_FLIGHT", 4),
		WorkerQueueDepth:  getEnvInt("WORKER_QUEUE_DEPTH", 64),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),

		LogFile:  getEnv("PRICEWATCH_LOG_FILE", "/tmp/pricewatch.log"),
		LogLevel: parseLogLevel(getEnv("PRICEWATCH_LOG_LEVEL", "INFO")),
	}
}

// Validate reports missing credentials and unknown settings.
// A failure here is the only error allowed to stop the worker process.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreSurrealDB:
		if c.SurrealDBURL == "" {
			errs = append(errs, errors.New("SURREALDB_URL is required"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported PRICEWATCH_STORE: %q", c.Store))
	}

	switch c.LLMProvider {
	case ProviderGoogleAI:
		if c.GoogleAPIKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is required for the googleai provider"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	case ProviderOllama, ProviderBedrock:
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER: %q", c.LLMProvider))
	}

	if c.FetchMode != FetchBrowser && c.FetchMode != FetchHTTP {
		errs = append(errs, fmt.Errorf("unsupported FETCH_MODE: %q", c.FetchMode))
	}
	if c.InterpretMaxChars <= 0 {
		errs = append(errs, errors.New("INTERPRET_MAX_CHARS must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
