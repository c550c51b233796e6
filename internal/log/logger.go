package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger tagged with a component. Every record carries
// exactly one component attribute.
type Logger struct {
	*slog.Logger
	base      *slog.Logger
	component string
}

// Config holds logger configuration
type Config struct {
	Level     slog.Level
	Format    string // "text" or "json"
	Component string
	Output    io.Writer
	Handler   slog.Handler
}

// DefaultConfig returns sensible defaults for logging
func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Format:    "text",
		Component: ComponentApp,
	}
}

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: config.Level}

	var handler slog.Handler
	switch {
	case config.Handler != nil:
		handler = config.Handler
	case config.Format == "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return wrap(slog.New(handler), config.Component)
}

func wrap(base *slog.Logger, component string) *Logger {
	l := &Logger{Logger: base, base: base, component: component}
	if component != "" {
		l.Logger = base.With(FieldComponent, component)
	}
	return l
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		base:      l.base.With(args...),
		component: l.component,
	}
}

// WithComponent returns a logger tagged with component instead of the
// current one.
func (l *Logger) WithComponent(component string) *Logger {
	return wrap(l.base, component)
}

// Component returns the logger's component name
func (l *Logger) Component() string {
	return l.component
}

// SetDefault installs logger as the slog default so packages that log
// through slog directly share its handler.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
