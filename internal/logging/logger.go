// Package logging builds the zap-backed logger shared by all components.
package logging

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// New returns a logger for the given verbosity: 0 is info, positive values
// raise towards debug, negative ones lower towards error and finally off.
// The verbosity comes from counting -v and -q flags.
func New(verbosity int) logr.Logger {
	opts := crzap.Options{}
	var level zapcore.Level
	switch {
	case verbosity < -2:
		level = zapcore.FatalLevel
	case verbosity == -2:
		level = zapcore.ErrorLevel
	case verbosity == -1:
		level = zapcore.WarnLevel
	case verbosity == 0:
		level = zapcore.InfoLevel
	default:
		opts.Development = true
		level = zapcore.DebugLevel
	}
	atomic := zap.NewAtomicLevelAt(level)
	opts.Level = &atomic
	return crzap.New(crzap.UseFlagOptions(&opts))
}
