package logx

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.Mutex
	lg *zap.SugaredLogger
)

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// Init builds the process logger. LOG_LEVEL selects the level, LOG_FORMAT=console
// switches to the human readable encoder for local runs.
func Init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))
	cfg.Encoding = "json"
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}

	mu.Lock()
	lg = z.Sugar()
	mu.Unlock()
}

func L() *zap.SugaredLogger {
	mu.Lock()
	l := lg
	mu.Unlock()
	if l == nil {
		Init()
		return L()
	}
	return l
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.SugaredLogger {
	return L().With("component", component)
}

// Set replaces the process logger. Tests use it with zap.NewNop or zaptest.
func Set(l *zap.SugaredLogger) {
	mu.Lock()
	lg = l
	mu.Unlock()
}

func Sync() { _ = L().Sync() }
