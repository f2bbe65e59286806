// Package log provides per-component structured loggers backed by zap,
// mirroring the "Logger(subsystem)" convention used throughout this
// module (swarm, muxer/yamux, peerstore/addrbook, ...).
package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	base    *zap.Logger
	loggers = map[string]*zap.SugaredLogger{}
)

func init() {
	base = newBase()
}

func newBase() *zap.Logger {
	level := zapcore.InfoLevel
	if lv := os.Getenv("MESHLAYER_LOG_LEVEL"); lv != "" {
		_ = level.Set(strings.ToLower(lv))
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return l
}

// Logger returns the (cached) logger for a named component, e.g.
// log.Logger("swarm").
func Logger(component string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[component]; ok {
		return l
	}
	l := base.Named(component).Sugar()
	loggers[component] = l
	return l
}

// SetBase replaces the underlying zap logger used by all components
// created after the call (existing cached loggers are rebuilt too).
// Intended for tests that want to capture or silence output.
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	for name := range loggers {
		loggers[name] = base.Named(name).Sugar()
	}
}
