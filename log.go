package lifetimes

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var pkgLogger atomic.Pointer[zap.SugaredLogger]

// SetLogger replaces the logger used for termination diagnostics. Passing nil
// restores the default, which follows zap's global logger.
func SetLogger(l *zap.SugaredLogger) {
	pkgLogger.Store(l)
}

func logger() *zap.SugaredLogger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return zap.S().Named("lifetimes")
}
