package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRICEWATCH_STORE", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("FETCH_TIMEOUT", "")

	cfg := Load()
	assert.Equal(t, StoreSurrealDB, cfg.Store)
	assert.Equal(t, ProviderGoogleAI, cfg.LLMProvider)
	assert.Equal(t, 120*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 30000, cfg.InterpretMaxChars)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRICEWATCH_STORE", "Postgres")
	t.Setenv("WORKER_MAX_IN_FLIGHT", "9")
	t.Setenv("FETCH_SETTLE", "250ms")
	t.Setenv("FETCH_RETRIES", "not-a-number")
	t.Setenv("PRICEWATCH_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 9, cfg.WorkerMaxInFlight)
	assert.Equal(t, 250*time.Millisecond, cfg.FetchSettle)
	assert.Equal(t, 2, cfg.FetchRetries)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Store:             StoreSurrealDB,
			SurrealDBURL:      "ws://localhost:8000/rpc",
			LLMProvider:       ProviderGoogleAI,
			GoogleAPIKey:      "key",
			FetchMode:         FetchBrowser,
			InterpretMaxChars: 30000,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing google key", func(c *Config) { c.GoogleAPIKey = "" }, "GOOGLE_API_KEY"},
		{"postgres without dsn", func(c *Config) { c.Store = StorePostgres }, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.Store = "mongo" }, "PRICEWATCH_STORE"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "gpt" }, "LLM_PROVIDER"},
		{"ollama needs no key", func(c *Config) { c.LLMProvider = ProviderOllama; c.GoogleAPIKey = "" }, ""},
		{"bad fetch mode", func(c *Config) { c.FetchMode = "curl" }, "FETCH_MODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
