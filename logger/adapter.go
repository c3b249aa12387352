package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// LogEventAdapter adapts zerolog events to the LogEvent interface.
type LogEventAdapter struct {
	event  *zerolog.Event
	filter *SensitiveDataFilter
}

func (lea *LogEventAdapter) with(e *zerolog.Event) LogEvent {
	return &LogEventAdapter{event: e, filter: lea.filter}
}

// Msg logs the message
func (lea *LogEventAdapter) Msg(msg string) {
	lea.event.Msg(msg)
}

// Msgf logs a formatted message
func (lea *LogEventAdapter) Msgf(format string, args ...any) {
	lea.event.Msgf(format, args...)
}

// Err adds an error to the log event
func (lea *LogEventAdapter) Err(err error) LogEvent {
	return lea.with(lea.event.Err(err))
}

// Str adds a string field, masked when the key is sensitive
func (lea *LogEventAdapter) Str(key, value string) LogEvent {
	if lea.filter != nil {
		value = lea.filter.FilterString(key, value)
	}
	return lea.with(lea.event.Str(key, value))
}

// Bool adds a boolean field
func (lea *LogEventAdapter) Bool(key string, value bool) LogEvent {
	return lea.with(lea.event.Bool(key, value))
}

// Int adds an integer field
func (lea *LogEventAdapter) Int(key string, value int) LogEvent {
	return lea.with(lea.event.Int(key, value))
}

// Int64 adds an int64 field
func (lea *LogEventAdapter) Int64(key string, value int64) LogEvent {
	return lea.with(lea.event.Int64(key, value))
}

// Dur adds a duration field
func (lea *LogEventAdapter) Dur(key string, d time.Duration) LogEvent {
	return lea.with(lea.event.Dur(key, d))
}

// Interface adds an arbitrary field, filtered recursively
func (lea *LogEventAdapter) Interface(key string, i any) LogEvent {
	if lea.filter != nil {
		i = lea.filter.FilterValue(key, i)
	}
	return lea.with(lea.event.Interface(key, i))
}

// Bytes adds a byte slice field; sensitive keys are masked like strings
func (lea *LogEventAdapter) Bytes(key string, val []byte) LogEvent {
	if lea.filter != nil && lea.filter.isSensitiveField(key) {
		return lea.with(lea.event.Str(key, lea.filter.config.MaskValue))
	}
	return lea.with(lea.event.Bytes(key, val))
}

// Info creates an info-level log event
func (l *ZeroLogger) Info() LogEvent {
	return &LogEventAdapter{event: l.zlog.Info(), filter: l.filter}
}

// Error creates an error-level log event
func (l *ZeroLogger) Error() LogEvent {
	return &LogEventAdapter{event: l.zlog.Error(), filter: l.filter}
}

// Debug creates a debug-level log event
func (l *ZeroLogger) Debug() LogEvent {
	return &LogEventAdapter{event: l.zlog.Debug(), filter: l.filter}
}

// Warn creates a warning-level log event
func (l *ZeroLogger) Warn() LogEvent {
	return &LogEventAdapter{event: l.zlog.Warn(), filter: l.filter}
}
