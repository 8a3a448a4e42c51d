package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.SugaredLogger
	once         sync.Once
)

// Init initializes the global logger.
func Init(level, format string, console bool) error {
	var initErr error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true

		if format == "console" || console {
			cfg.Encoding = "console"
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		} else {
			cfg.Encoding = "json"
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		base, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			initErr = err
			return
		}
		zap.ReplaceGlobals(base)
		globalLogger = base.Sugar()
	})
	return initErr
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func get() *zap.SugaredLogger {
	if globalLogger == nil {
		_ = Init("info", "console", true)
	}
	return globalLogger
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	get().Debugf(format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	get().Infof(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	get().Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

// Sync flushes buffered log entries.
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}
