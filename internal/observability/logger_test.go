// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/stateprobe/internal/config"
)

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "stateprobe",
		Colors:      config.ColorConfig{Info: "green"},
	}, zapcore.AddSync(&buf))

	logger.Named("extractor").Info("Learning round", zap.Int("round", 3))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
	assert.Contains(t, out, "stateprobe.extractor.")
	assert.Contains(t, out, "Learning round")
	assert.Contains(t, out, `"round": 3`)
}

func TestNewLogger_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))

	logger.Info("dropped")
	logger.Warn("kept", zap.String("session_id", "abc"))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "abc", entry["session_id"])
}

func TestNewLogger_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "chatty", Format: "json"}, zapcore.AddSync(&buf))
	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, logger.Sync())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_FileSink(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "stateprobe.log")
	var console bytes.Buffer
	logger := NewLogger(config.LoggerConfig{
		Level:   "info",
		Format:  "console",
		LogFile: logFile,
		MaxSize: 1,
	}, zapcore.AddSync(&console))

	logger.Info("to both sinks")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry), "file sink is always JSON")
	assert.Equal(t, "to both sinks", entry["msg"])
	assert.Contains(t, console.String(), "to both sinks")
}

func TestInitialize_Once(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&second))

	GetLogger().Info("hello")
	Sync()
	assert.Contains(t, first.String(), "hello")
	assert.Empty(t, second.String())
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
	Sync()
}

func TestForSession(t *testing.T) {
	var buf bytes.Buffer
	logger := ForSession(NewLogger(config.LoggerConfig{Format: "json"}, zapcore.AddSync(&buf)), "s-1", "sim://a")
	logger.Info("scoped")
	require.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), `"session_id":"s-1"`)
	assert.Contains(t, buf.String(), `"target":"sim://a"`)
}
