package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/tevino/abool"
)

// Severity describes a log level.
type Severity uint32

// Log Levels.
const (
	TraceLevel    Severity = 1
	DebugLevel    Severity = 2
	InfoLevel     Severity = 3
	WarningLevel  Severity = 4
	ErrorLevel    Severity = 5
	CriticalLevel Severity = 6
)

func (s Severity) toSLogLevel() slog.Level {
	// Convert to slog level.
	switch s {
	case TraceLevel:
		return slog.LevelDebug - 4
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarningLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case CriticalLevel:
		return slog.LevelError + 4
	}
	// Failed to convert, return default log level
	return slog.LevelWarn
}

// Name returns the name of the log level.
func (s Severity) Name() string {
	switch s {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarningLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case CriticalLevel:
		return "critical"
	default:
		return "none"
	}
}

// ParseLevel returns the level severity of a log level name.
// Both the short and the upper case forms ("WARN", "DEBUG") are accepted.
func ParseLevel(level string) Severity {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return TraceLevel
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warning", "warn":
		return WarningLevel
	case "error":
		return ErrorLevel
	case "critical", "fatal":
		return CriticalLevel
	}
	return 0
}

// Format defines how log records are written to the log file.
type Format string

// Log file formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures a Logger.
type Options struct {
	// Name is added to every record as the "logger" attribute.
	Name string

	// Level is the level name, as understood by ParseLevel.
	// Falls back to info if empty or invalid.
	Level string

	// Format of the log file. Console output is always human readable.
	Format Format

	// File is the log file path. Leave empty to only log to the console.
	File string

	// MaxSizeMB, MaxBackups and MaxAgeDays control log file rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Console is where console output goes. Defaults to stderr.
	// Set NoConsole to disable it.
	Console   io.Writer
	NoConsole bool
}

// Logger is a slog.Logger that owns its outputs.
type Logger struct {
	*slog.Logger

	level  *slog.LevelVar
	closer io.Closer

	closeOnce sync.Once
	closed    *abool.AtomicBool
}

// New creates a new logger as configured by opts.
// An invalid level is reported on stderr and replaced by info.
func New(opts Options) (*Logger, error) {
	initialLevel := InfoLevel
	if opts.Level != "" {
		initialLevel = ParseLevel(opts.Level)
		if initialLevel == 0 {
			fmt.Fprintf(os.Stderr, "log warning: invalid log level %q, falling back to level info\n", opts.Level)
			initialLevel = InfoLevel
		}
	}

	lvl := new(slog.LevelVar)
	lvl.Set(initialLevel.toSLogLevel())

	handlers := make([]slog.Handler, 0, 2)
	if !opts.NoConsole {
		handlers = append(handlers, newConsoleHandler(opts.Console, lvl))
	}

	var closer io.Closer
	if opts.File != "" {
		h, c, err := newFileHandler(opts, lvl)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize log file: %w", err)
		}
		handlers = append(handlers, h)
		closer = c
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.DiscardHandler
	case 1:
		handler = handlers[0]
	default:
		handler = multiHandler(handlers)
	}

	logger := slog.New(handler)
	if opts.Name != "" {
		logger = logger.With("logger", opts.Name)
	}

	return &Logger{
		Logger: logger,
		level:  lvl,
		closer: closer,
		closed: abool.New(),
	}, nil
}

// SetLevel changes the log level at runtime.
func (l *Logger) SetLevel(level Severity) {
	l.level.Set(level.toSLogLevel())
}

// Level returns the current log level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close flushes and closes the log file, if any.
// The console output stays usable.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Set()
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

// IsClosed returns whether Close was called.
func (l *Logger) IsClosed() bool {
	return l.closed.IsSet()
}
