package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.SugaredLogger

// Init builds the process-wide logger at the given level ("debug", "info",
// "warn", "error"). It returns a sync func to flush buffered entries.
func Init(level string) (func(), error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = lvl != zapcore.DebugLevel

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	Set(z.Sugar())
	return func() { _ = z.Sync() }, nil
}

// Set replaces the global logger; tests use it with zaptest or observer cores.
func Set(z *zap.SugaredLogger) {
	global = z
	zap.ReplaceGlobals(z.Desugar())
}

// Logger returns the global logger. It is never nil.
func Logger() *zap.SugaredLogger {
	if global == nil {
		// Init not called yet, stay quiet.
		return zap.NewNop().Sugar()
	}
	return global
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", level)
	}
}
