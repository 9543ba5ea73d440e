// Package telemetry provides the structured logging and metrics used
// across the storage engine core. It is intentionally thin: components
// pull a named sub-logger for their own events and optionally register
// a handful of counters against a caller-owned Prometheus
// registry.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the storage engine's component-tagging
// convention.
type Logger struct {
	zlog zerolog.Logger
}

// Config configures a root Logger.
type Config struct {
	Level  string // debug, info, warn, error (default info)
	Output io.Writer
}

// New creates a root logger. A zero Config logs at info level to stderr.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	zlog := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{zlog: zlog}
}

// Nop returns a Logger that discards every event; used as the default
// when a component is constructed without an explicit Logger.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Component returns a child logger tagged with the given component name,
// e.g. "filemgr", "pagecache", "engine", "table", "btreeindex".
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// NewOperationID mints a correlation id for one logical engine call
// (e.g. one Engine.OpenFile invocation). The engine attaches it as the
// "op" field of the log events it emits itself; events logged by the
// file manager, cache, and table/index layers do not carry it.
func NewOperationID() string {
	return uuid.NewString()
}

func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// Duration is a small helper for call sites that want to log how long an
// operation took without importing time directly.
func Duration(start time.Time) time.Duration { return time.Since(start) }
