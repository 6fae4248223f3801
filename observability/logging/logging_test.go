package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "settlementd", "test")
	logger.Info("vendor activated", "account", "0xabc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "vendor activated", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "settlementd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestMaskFieldRedactsUnlistedKeys(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("token", "secret").Value.String())
	require.Equal(t, "0xabc", MaskField("account", "0xabc").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
}

func TestMaskPhoneKeepsSuffix(t *testing.T) {
	require.Equal(t, "*******42", MaskPhone("+15550142").Value.String())
	require.Equal(t, RedactedValue, MaskPhone("12").Value.String())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
