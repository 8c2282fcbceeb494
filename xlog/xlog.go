// Package xlog is the back end's package-level structured logger. Every
// other package logs through a small set of top-level functions rather
// than threading a *zap.Logger through every call, mirroring the
// teacher's own package-global `github.com/colorfulnotion/jam/log`
// convention (itself used unconditionally throughout pvm/recompiler.go's
// translation and execution paths).
package xlog

import (
	"go.uber.org/zap"
)

var base = zap.NewNop()

func init() {
	l, err := zap.NewProduction()
	if err == nil {
		base = l
	}
}

// SetLogger replaces the package-level logger, e.g. with a development
// logger from a CLI's -v flag.
func SetLogger(l *zap.Logger) { base = l }

// Sugar returns a SugaredLogger for call sites that prefer printf-style
// formatting over structured fields — used by the mnemonic layer's
// verbose trace hook (spec.md §4.3 "records an assembly text comment
// through a verbose hook").
func Sugar() *zap.SugaredLogger { return base.Sugar() }

// Debugf, Infof, Warnf, Errorf are convenience wrappers used throughout
// the assembler and selector packages.
func Debugf(format string, args ...any) { Sugar().Debugf(format, args...) }
func Infof(format string, args ...any)  { Sugar().Infof(format, args...) }
func Warnf(format string, args ...any)  { Sugar().Warnf(format, args...) }
func Errorf(format string, args ...any) { Sugar().Errorf(format, args...) }
