package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "", "", false)
	require.NoError(t, err)

	logger.Info("stored report", "report_id", "abc")
	logger.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stored report", entry["msg"])
	assert.Equal(t, "abc", entry["report_id"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "text", false)
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, logger.GetLevel())

	logger, err = New(&buf, "warn", "text", true)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
}

func TestNewInvalid(t *testing.T) {
	var buf bytes.Buffer
	_, err := New(&buf, "trace", "", false)
	require.Error(t, err)

	_, err = New(&buf, "", "xml", false)
	require.Error(t, err)
}
