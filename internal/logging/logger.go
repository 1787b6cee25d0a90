// Package logging provides the broker's structured logger. It keeps the
// teacher's component/field-chaining API (internal/logging/logger.go) but
// backs it with zerolog instead of a hand-rolled JSON/text encoder, and
// always routes through a secmask.Writer so secrets never reach stdout/stderr
// (§6 "Log masking").
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/koshedutech/market-broker/internal/secmask"
)

// Level mirrors §6's LOG_LEVEL set: error, warn, info, debug.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a string (case-insensitive) to a Level, defaulting to
// INFO for anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Config configures a Logger, mirroring the teacher's logging.Config shape.
type Config struct {
	Level       string
	Output      string // "stdout", "stderr", or a file path
	Component   string
	IncludeFile bool
	JSONFormat  bool
}

// Logger is a structured logger with chainable component/field context.
type Logger struct {
	zl  zerolog.Logger
	out *secmask.Writer
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// New creates a Logger per cfg, wrapping its sink in a secmask.Writer.
func New(cfg *Config) *Logger {
	var sink io.Writer
	switch cfg.Output {
	case "", "stdout":
		sink = os.Stdout
	case "stderr":
		sink = os.Stderr
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			sink = f
		} else {
			sink = os.Stdout
		}
	}

	masked := secmask.NewWriter(sink)

	var writer io.Writer = masked
	if !cfg.JSONFormat {
		writer = zerolog.ConsoleWriter{Out: masked, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(writer).With().Timestamp().Logger().Level(ParseLevel(cfg.Level).zerolog())
	if cfg.Component != "" {
		zl = zl.With().Str("component", cfg.Component).Logger()
	}
	if cfg.IncludeFile {
		zl = zl.With().Caller().Logger()
	}

	return &Logger{zl: zl, out: masked}
}

// Default returns the process-wide default logger, created lazily.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(&Config{Level: "info", Output: "stdout", Component: "broker", JSONFormat: true})
	})
	return defaultLogger
}

// SetDefault installs l as the process-wide default logger.
func SetDefault(l *Logger) {
	once.Do(func() {})
	defaultLogger = l
}

// RegisterSecret masks s out of every future write through l's sink.
func (l *Logger) RegisterSecret(s string) {
	if l.out != nil {
		l.out.Register(s)
	}
}

// WithComponent returns a derived logger tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger(), out: l.out}
}

// WithField returns a derived logger carrying an extra key/value field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), out: l.out}
}

// WithFields returns a derived logger carrying extra key/value fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger(), out: l.out}
}

// WithError returns a derived logger carrying an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger(), out: l.out}
}

func (l *Logger) Debug(msg string, args ...interface{}) { logKV(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { logKV(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { logKV(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { logKV(l.zl.Error(), msg, args) }

// logKV accepts the teacher's calling convention: a message followed by
// zero or more even key/value pairs.
func logKV(ev *zerolog.Event, msg string, args []interface{}) {
	if len(args) == 0 {
		ev.Msg(msg)
		return
	}
	if len(args)%2 != 0 {
		ev.Interface("args", args).Msg(msg)
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }

// WithComponent returns a derived default logger tagged with component.
func WithComponent(component string) *Logger { return Default().WithComponent(component) }
