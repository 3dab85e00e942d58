package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf})
	require.NoError(t, err)

	logger.Info().Str("scenario", "default").Msg("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "default", entry["scenario"])
	assert.Equal(t, "started", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Level: "WARN"})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Format: FormatConsole})
	require.NoError(t, err)

	logger.Info().Int("vus", 5).Msg("ramping")

	out := buf.String()
	assert.Contains(t, out, "ramping")
	assert.Contains(t, out, "vus=5")
	assert.False(t, strings.HasPrefix(out, "{"))
	assert.NotContains(t, out, "\x1b[", "console output to a buffer is not colored")
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}
