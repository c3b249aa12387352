package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger wraps zerolog.Logger to implement the Logger interface.
// String and interface fields pass through a SensitiveDataFilter before
// they reach the underlying writer.
type ZeroLogger struct {
	zlog   *zerolog.Logger
	filter *SensitiveDataFilter
}

var _ Logger = (*ZeroLogger)(nil)

var callerMarshalOnce sync.Once

// New creates a logger writing JSON lines (or console output when pretty is
// true) to stdout. Unknown levels fall back to info.
func New(level string, pretty bool) *ZeroLogger {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return build(out, level, DefaultFilterConfig())
}

// NewWithWriter creates a JSON logger writing to w. Tests use it to capture
// output in a buffer.
func NewWithWriter(w io.Writer, level string) *ZeroLogger {
	return build(w, level, DefaultFilterConfig())
}

// NewWithFilter is like New but with a caller supplied set of sensitive keys.
func NewWithFilter(level string, pretty bool, filterConfig *FilterConfig) *ZeroLogger {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return build(out, level, filterConfig)
}

// NewNop returns a logger that discards everything.
func NewNop() *ZeroLogger {
	l := zerolog.Nop()
	return &ZeroLogger{zlog: &l, filter: NewSensitiveDataFilter(nil)}
}

func build(out io.Writer, level string, filterConfig *FilterConfig) *ZeroLogger {
	callerMarshalOnce.Do(func() {
		zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
			base := filepath.Base(file)
			parent := filepath.Base(filepath.Dir(file))
			if parent != "." && parent != "" {
				return parent + "/" + base + ":" + strconv.Itoa(line)
			}
			return base + ":" + strconv.Itoa(line)
		}
	})

	l := zerolog.New(out).With().Timestamp().CallerWithSkipFrameCount(3).Logger()

	zLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zLevel = zerolog.InfoLevel
	}
	l = l.Level(zLevel)

	return &ZeroLogger{zlog: &l, filter: NewSensitiveDataFilter(filterConfig)}
}

// Level reports the minimum level this logger writes.
func (l *ZeroLogger) Level() zerolog.Level {
	return l.zlog.GetLevel()
}

// WithContext returns the logger stored in ctx by zerolog, if any, keeping
// this logger's filter. Otherwise l is returned unchanged.
func (l *ZeroLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	zl := zerolog.Ctx(ctx)
	if zl == nil || zl.GetLevel() == zerolog.Disabled {
		return l
	}
	return &ZeroLogger{zlog: zl, filter: l.filter}
}

// WithFields returns a logger with additional fields attached to all entries.
func (l *ZeroLogger) WithFields(fields map[string]any) Logger {
	if l.filter != nil {
		fields = l.filter.FilterFields(fields)
	}
	log := l.zlog.With().Fields(fields).Logger()
	return &ZeroLogger{zlog: &log, filter: l.filter}
}
