package zorm

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	pkgLogger atomic.Pointer[zerolog.Logger]
	nopLogger = zerolog.Nop()
)

// SetLogger installs the logger zorm reports relation declarations, pending
// flushes and failed touches to. The default discards everything.
//
//	zorm.SetLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
func SetLogger(l zerolog.Logger) {
	pkgLogger.Store(&l)
}

// logger is safe to call from package level variable initializers, which
// run before SetLogger can.
func logger() *zerolog.Logger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return &nopLogger
}
