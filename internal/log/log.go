// Package log is a thin key-value logging facade over zap. Call sites pass
// alternating key/value pairs, e.g.:
//
//	log.Info("bind completed", "group_id", gid, "user_id", uid)
//	log.Error("feed parse failed", err, "path", p)
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.SugaredLogger
)

func get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newLogger(false)
	}
	return logger
}

// Init configures the global logger. debug=true enables DEBUG-level output
// and the development encoder. Safe to call more than once.
func Init(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(debug)
}

func newLogger(debug bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func Debug(msg string, kv ...any) {
	get().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	get().Infow(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	get().Errorw(msg, extended...)
}

// Sync flushes buffered log entries. Intended for use on shutdown.
func Sync() {
	_ = get().Sync()
}
