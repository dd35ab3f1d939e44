package logger

import (
	"context"
	"fmt"
	"log"
	"sync"
)

var (
	defMu  sync.RWMutex
	defLog Logger = New(context.Background())
)

// SetDefault replaces the package-level default logger used by GetLogger and the Level helpers.
func SetDefault(l Logger) {
	defMu.Lock()
	defer defMu.Unlock()
	if l != nil {
		defLog = l
	}
}

// Default returns the package-level default logger.
func Default() Logger {
	defMu.RLock()
	defer defMu.RUnlock()
	return defLog
}

// GetLogger returns a standard library *log.Logger backed by the package-level default Logger,
// writing every line at the given level. pattern/args are used to build a message prefix.
func GetLogger(lvl Level, flags int, pattern string, args ...interface{}) *log.Logger {
	prefix := pattern
	if len(args) > 0 {
		prefix = fmt.Sprintf(pattern, args...)
	}
	l := Default()
	return log.New(&levelWriter{l: l.(*logger), lvl: lvl}, prefix, flags)
}

// Logf logs a message at level l through the package-level default logger.
func (l Level) Logf(format string, args ...interface{}) {
	Default().(*logger).logWith(l, Default().GetFields(), format, args...)
}

// Log logs message through the package-level default logger.
func (l Level) Log(message string) {
	Default().(*logger).logWith(l, Default().GetFields(), message)
}

// LogErrorCtxf logs err (if non-nil) at level l with a context prefix, through the default logger.
func (l Level) LogErrorCtxf(ctx string, err error) bool {
	return Default().LogErrorCtxf(l, ctx, err)
}
