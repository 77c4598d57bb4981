// Package logger owns the process-wide zap logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Init builds the global logger. If logFilePath is empty, output goes to
// stdout/stderr only. Safe to call once at process startup; subsequent
// calls (e.g. from tests) replace the global logger.
func Init(development bool, logFilePath string) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	if logFilePath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logFilePath)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logFilePath)
	}

	built, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return err
	}

	mu.Lock()
	log = built
	mu.Unlock()
	return nil
}

// L returns the current global logger. Falls back to zap.NewNop() wrapped
// defaults if Init was never called, so packages can log safely in tests.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Sync flushes any buffered log entries. Call from a deferred main().
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

// SetForTest installs a logger for use in tests (e.g. zaptest.NewLogger).
func SetForTest(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}
