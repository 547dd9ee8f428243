// Package logging provides prx's process-wide structured logger: a
// single swappable *zap.Logger obtained once at startup, rather than
// threading a logger through every call site.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	log = l
}

// L returns the current process logger. Safe for concurrent use.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLevel rebuilds the logger at the given level ("debug", "info",
// "warn", "error"); unknown levels fall back to "info". Intended to
// be driven by observability.log_level at startup.
func SetLevel(level string) error {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	l, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	old := log
	log = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// Set replaces the process logger outright; used by tests to capture
// output or silence logging.
func Set(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}
