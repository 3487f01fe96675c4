package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensitiveAttributesAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug")

	logger.Info("withdraw", slog.String("pin", "4821"), slog.String("Signature", "abc"),
		slog.Group("req", slog.String("authorization", "Bearer x")), slog.String("user_id", "u-1"))

	out := buf.String()
	assert.NotContains(t, out, "4821")
	assert.NotContains(t, out, "Bearer x")
	assert.NotContains(t, out, `"abc"`)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "u-1", record["user_id"])
	assert.Equal(t, redacted, record["pin"])
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud")
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
