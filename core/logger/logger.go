// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package logger

import (
	"context"
)

// Level represents the log level.
type Level int

// The severity levels, in increasing order.
const (
	UNSPECIFIED Level = iota
	TRACE
	DEBUG
	INFO
	WARNING
	ERROR
	CRITICAL
)

// Logger is an interface that provides logging methods.
type Logger interface {
	// Criticalf logs a message at the critical level.
	Criticalf(ctx context.Context, msg string, args ...any)

	// Errorf logs a message at the error level.
	Errorf(ctx context.Context, msg string, args ...any)

	// Warningf logs a message at the warning level.
	Warningf(ctx context.Context, msg string, args ...any)

	// Infof logs a message at the info level.
	Infof(ctx context.Context, msg string, args ...any)

	// Debugf logs a message at the debug level.
	Debugf(ctx context.Context, msg string, args ...any)

	// Tracef logs a message at the trace level.
	Tracef(ctx context.Context, msg string, args ...any)

	// IsLevelEnabled returns true if the given level is enabled for the
	// logger.
	IsLevelEnabled(Level) bool

	// Child returns a new logger with the given name.
	Child(name string) Logger
}
