package logging

import (
	"fmt"
	"io"
	"log/slog"

	"image-sage-server-go/internal/utils"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides the console sink, stderr by default.
	Console io.Writer
}

// Logger provides access to both slog and the tagged logging API.
type Logger struct {
	legacy *utils.Logger
}

// New creates a new Logger instance backed by the utils logger.
func New(cfg Config) (*Logger, error) {
	logCfg := &utils.LogCfg{
		LogLevel: cfg.Level,
		LogDir:   cfg.Dir,
		LogFile:  cfg.Filename,
		Console:  cfg.Console,
	}
	legacy, err := utils.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return &Logger{legacy: legacy}, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{legacy: utils.NewDiscardLogger()}
}

// Legacy exposes the underlying tagged logger.
func (l *Logger) Legacy() *utils.Logger {
	if l == nil {
		return nil
	}
	return l.legacy
}

// Slog exposes the structured logger for new integrations.
func (l *Logger) Slog() *slog.Logger {
	if l == nil || l.legacy == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l.legacy.Slog()
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.legacy == nil {
		return nil
	}
	return l.legacy.Close()
}
