// Package logger defines the structured logging contract used by the gauth
// packages and a zerolog-backed implementation of it.
package logger

import (
	"context"
	"time"
)

// Logger is the structured logger handed to sessions, the token exchange and
// the CLI. Implementations must be safe for concurrent use.
type Logger interface {
	Info() LogEvent
	Error() LogEvent
	Debug() LogEvent
	Warn() LogEvent
	WithContext(ctx context.Context) Logger
	WithFields(fields map[string]any) Logger
}

// LogEvent is a single log entry under construction. Nothing is written
// until Msg or Msgf is called.
type LogEvent interface {
	Msg(msg string)
	Msgf(format string, args ...any)
	Err(err error) LogEvent
	Str(key, value string) LogEvent
	Bool(key string, value bool) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Dur(key string, d time.Duration) LogEvent
	Interface(key string, i any) LogEvent
	Bytes(key string, val []byte) LogEvent
}
