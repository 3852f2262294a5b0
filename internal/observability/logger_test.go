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

	"github.com/xkilldash9x/autowait/internal/config"
)

// lockedBuffer is a WriteSyncer over a bytes.Buffer.
type lockedBuffer struct {
	bytes.Buffer
}

func (b *lockedBuffer) Sync() error { return nil }

func initWithBuffer(t *testing.T, cfg config.LoggerConfig) *lockedBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	buf := &lockedBuffer{}
	Initialize(cfg, zapcore.Lock(buf))
	return buf
}

func TestInitialize(t *testing.T) {
	t.Run("console logger colorizes levels", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("pool").Info("This is a test message.")
		Sync()

		out := buf.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "This is a test message.")
		assert.Contains(t, out, colorGreen)
		assert.Contains(t, out, colorReset)
		assert.Contains(t, out, "TestService.pool.")
	})

	t.Run("json logger emits structured fields", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		})
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("level filters lower entries", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("hidden too")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("writes to a rotated log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "autowait.log")
		initWithBuffer(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: path,
			MaxSize: 1,
		})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("only the first initialization applies", func(t *testing.T) {
		buf := initWithBuffer(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.True(t, strings.Contains(buf.String(), "First"))
		assert.False(t, strings.Contains(buf.String(), "Second"))
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("falls back before initialization", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the stored logger", func(t *testing.T) {
		initWithBuffer(t, config.LoggerConfig{Level: "info"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
