// Package clilog adapts logrus to the bundling logger interface for the
// command line tools.
package clilog

import (
	"github.com/sirupsen/logrus"

	"github.com/gridwise/bundling"
)

// Logger forwards bundling log records to a logrus logger.
type Logger struct {
	logger *logrus.Logger
}

var _ bundling.Logger = Logger{}

// New creates a logrus-backed logger. Verbose enables debug records.
func New(verbose bool) Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	return Logger{logger: logger}
}

// Debug implements bundling.Logger.
func (l Logger) Debug(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Debug(msg)
}

// Info implements bundling.Logger.
func (l Logger) Info(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Info(msg)
}

// Warn implements bundling.Logger.
func (l Logger) Warn(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Warn(msg)
}

// Error implements bundling.Logger.
func (l Logger) Error(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Error(msg)
}

func fields(args []any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}

	out := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		var val any = "<missing>"
		if i+1 < len(args) {
			val = args[i+1]
		}
		out[key] = val
	}

	return out
}
