// Package logging builds the logr.Logger used throughout initd, backed by
// zap the way the teacher repo backs its controllers' logr.Logger.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the engine-wide logr.Logger. debug selects development
// encoding (console, caller, stacktraces) versus production JSON.
func New(debug bool) logr.Logger {
	var cfg zap.Config

	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	zl, err := cfg.Build()
	if err != nil {
		// Building the root logger is a startup-time invariant failure:
		// there is nothing sensible to degrade to.
		panic(err)
	}

	return zapr.NewLogger(zl)
}

// Discard is used by tests that don't care about log output.
func Discard() logr.Logger {
	return logr.Discard()
}
