package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"debug":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"loud":     zerolog.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l, closer := New(Config{Level: "warn", Output: &buf})
	defer closer.Close()

	l.Info().Msg("hidden")
	cl := Component(l, "resync")
	cl.Warn().Str("entity", "G").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "resync", entry["component"])
	assert.Equal(t, "liboverride", entry["service"])
	assert.Equal(t, "G", entry["entity"])
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liboverride.log")
	var buf bytes.Buffer
	l, closer := New(Config{Output: &buf, File: path, MaxSizeMB: 1})
	l.Info().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}
