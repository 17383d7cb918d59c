// Copyright (C) 2021 Aung Maw
// Licensed under the GNU General Public License v3.0

// Package logger provides the process-wide structured logger used
// across the ledger state store. It follows the same shape as the
// rest of this codebase's teacher lineage: a single instance set once
// at process start and fetched through a short accessor, rather than a
// logger threaded through every constructor.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var instance *zap.SugaredLogger

// New builds a development-friendly sugared logger: console-encoded,
// debug level and above, with caller information.
func New() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.DisableStacktrace = true
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap's own config validation failing is a build-time
		// programmer error, not a runtime condition callers can
		// recover from.
		panic(err)
	}
	return l.Sugar()
}

// Set installs l as the process-wide logger instance.
func Set(l *zap.SugaredLogger) { instance = l }

// Instance returns the process-wide logger. It panics if Set has not
// been called, since every component using this package assumes
// logging is always available once the process is up.
func Instance() *zap.SugaredLogger {
	if instance == nil {
		panic("logger: Instance called before Set")
	}
	return instance
}

// I is a short alias for Instance, used at every call site.
func I() *zap.SugaredLogger { return Instance() }
