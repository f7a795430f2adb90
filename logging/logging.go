/*
Copyright 2019 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging provides the logr.Logger used across the CSE core. It
// is a thin wrapper so every component depends on an interface rather
// than a concrete backend.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// Logging levels. Debug is the logr verbosity passed to V() for
// diagnostic, non-operator-facing messages.
const (
	Debug = 1
)

// Logger is the logging interface used throughout the core. It is
// exactly logr.Logger; the alias exists so callers don't need to
// import go-logr directly.
type Logger = logr.Logger

// NewZapLogger returns a Logger backed by zap. If development is true
// a development config is used (stacktraces on warnings, no
// sampling); otherwise a production config is used (stacktraces on
// errors, sampling).
func NewZapLogger(development bool) Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stderr"}

	zl, err := cfg.Build()
	if err != nil {
		// Logging is ambient infrastructure; failing to build it should
		// not prevent the CSE from starting, so fall back to a minimal
		// logger rather than panicking.
		zl = zap.NewNop()
	}

	return zapr.NewLogger(zl)
}

// NewNopLogger returns a Logger that discards everything, used by
// components and tests that don't care to observe log output.
func NewNopLogger() Logger {
	return logr.Discard()
}

// Discard is re-exported for convenience at call sites that only need
// a quick no-op logger, e.g. table-driven tests.
var Discard = func() Logger { return logr.Discard() }
