package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	prevOut, prevLogger := stdout, log.Logger
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() {
		stdout = prevOut
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
	return &buf
}

func TestInitFromEnv_LevelAndJSON(t *testing.T) {
	buf := captureStdout(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")

	InitFromEnv()
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Str("action", "test").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "test", entry["action"])
	assert.Contains(t, entry, "time")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, parseLevel("trace"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestTeeOperation(t *testing.T) {
	buf := captureStdout(t)
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("LOG_FORMAT", "json")
	InitFromEnv()

	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := TeeOperation(dir, "backup")
	require.NoError(t, err)
	log.Info().Str("action", "backup").Msg("step done")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "backup.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"step done"`)
	assert.Contains(t, string(data), `"operation":"backup"`)
	assert.Contains(t, buf.String(), "step done")
}

func TestTeeOperation_NoDir(t *testing.T) {
	closer, err := TeeOperation("", "restore")
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}
