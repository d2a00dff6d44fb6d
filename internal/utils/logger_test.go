package utils

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewLogger(&LogCfg{
		LogLevel: "debug",
		LogDir:   tmpDir,
		LogFile:  "test.log",
		Console:  &bytes.Buffer{},
	})

	assert.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, logger.Close())
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, err := NewLogger(&LogCfg{LogLevel: "info", Console: &console})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("console only message")

	assert.Contains(t, console.String(), "console only message")
	assert.Nil(t, logger.logFile)
}

func TestLogger_WritesJSONFile(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewLogger(&LogCfg{
		LogLevel: "info",
		LogDir:   tmpDir,
		LogFile:  "info.log",
		Console:  &bytes.Buffer{},
	})
	require.NoError(t, err)

	logger.Info("test info message")
	logger.Warn("test warn %s", "formatted")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(filepath.Join(tmpDir, "info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "test info message")
	assert.Contains(t, string(content), "test warn formatted")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var console bytes.Buffer
	logger, err := NewLogger(&LogCfg{LogLevel: "WARN", Console: &console})
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")

	out := console.String()
	assert.NotContains(t, out, "hidden debug")
	assert.NotContains(t, out, "hidden info")
	assert.Contains(t, out, "visible warn")
}

func TestLogger_DebugLevelIsCaseInsensitive(t *testing.T) {
	var console bytes.Buffer
	logger, err := NewLogger(&LogCfg{LogLevel: "debug", Console: &console})
	require.NoError(t, err)
	defer logger.Close()

	logger.DebugTag("视觉", "backend=%s", "stub")

	assert.Contains(t, console.String(), "[视觉] backend=stub")
}

func TestLogger_StructuredFields(t *testing.T) {
	var console bytes.Buffer
	logger, err := NewLogger(&LogCfg{LogLevel: "info", Console: &console})
	require.NoError(t, err)
	defer logger.Close()

	// 结构化字段走 log，Info 等方法按 printf 格式处理
	logger.log(slog.LevelInfo, "request finished", map[string]interface{}{
		"backend": "stub",
		"ms":      3,
	})

	line := console.String()
	assert.Contains(t, line, "backend=stub")
	assert.Less(t, strings.Index(line, "backend="), strings.Index(line, "ms="))
}

func TestFormatLog(t *testing.T) {
	tests := []struct {
		tag, message, want string
	}{
		{"引导", "服务已启动", "[引导] 服务已启动"},
		{"", "plain", "plain"},
		{"MCP", "[HTTP] already tagged", "[HTTP] already tagged"},
		{" 获取 ", " spaced ", "[获取] spaced"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLog(tt.tag, tt.message))
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	logger, err := NewLogger(&LogCfg{LogDir: t.TempDir(), Console: &bytes.Buffer{}})
	require.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())

	// 关闭后写日志不应 panic
	logger.Info("after close")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.InfoTag("MCP", "ignored")
		logger.Error("ignored")
		_ = logger.Close()
	})
}
