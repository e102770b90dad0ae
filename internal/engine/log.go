package engine

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

// Logger returns the process-wide structured logger used by every
// engine component. It is built once, lazily, so packages that never
// touch the engine (pure CLI flag parsing, for instance) never pay for
// a zap core.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// SetLogger overrides the process-wide logger, for example with a
// development (console-encoded) logger in place of the default JSON
// production encoder.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}
