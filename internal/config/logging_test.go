package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerWithWriters(t *testing.T) {
	var text, jsonOut bytes.Buffer
	logger := SetupLoggerWithWriters(&text, &jsonOut, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("session finished", "session_id", "s1")

	assert.NotContains(t, text.String(), "hidden")
	assert.Contains(t, text.String(), "session_id=s1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &record))
	assert.Equal(t, "session finished", record["msg"])
	assert.Equal(t, ServiceName, record["service"])
}
