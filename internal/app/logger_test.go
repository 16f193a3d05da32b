package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerJSONCarriesServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "production", LogFormat: "json", LogLevel: "info"}, &buf)

	logger.Debug("hidden")
	logger.Info("batch verified", "batch", "B-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "receiving", rec["service"])
	require.Equal(t, "production", rec["env"])
	require.Equal(t, "B-1", rec["batch"])
	require.NotNil(t, rec["source"])
}

func TestLoggerLevelFromConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "development", LogFormat: "pretty", LogLevel: "debug"}, &buf)
	logger.Debug("scan accepted")
	require.Contains(t, buf.String(), "scan accepted")
	require.Contains(t, buf.String(), "service=receiving")

	buf.Reset()
	logger = newLogger(&Config{LogLevel: "nonsense"}, &buf)
	logger.Debug("dropped")
	require.Empty(t, buf.String())
}
