// Package logging provides the structured logger shared by every wasp
// component. Loggers are injected, never looked up globally.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Options configures where and how verbosely logs are written
type Options struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" toml:"level"`

	// Logfile, when set, receives JSON log lines through a rotating writer
	Logfile string `yaml:"logfile" toml:"logfile"`

	// MaxSize is the rotation size in megabytes
	MaxSize int `yaml:"maxLogSize" toml:"max_log_size"`

	// MaxAge is the number of days rotated files are kept
	MaxAge int `yaml:"maxLogAge" toml:"max_log_age"`
}

// Logger wraps zerolog with a component field on every event.
type Logger struct {
	logger zerolog.Logger
	closer io.Closer
}

// New creates a logger writing JSON lines to writer.
func New(writer io.Writer, level zerolog.Level) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.DurationFieldInteger = true

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}
}

// NewConsole creates a human readable logger on stdout.
func NewConsole(level zerolog.Level) *Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}
	return New(consoleWriter, level)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// FromOptions builds a logger from configuration. Without a log file the
// console writer is used.
func FromOptions(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Logfile == "" {
		return NewConsole(level), nil
	}
	fmt.Printf("Sending log messages to: %s\n", opts.Logfile)
	l := &lumberjack.Logger{
		Filename: opts.Logfile,
		MaxSize:  opts.MaxSize, // megabytes
		MaxAge:   opts.MaxAge,  // days
	}
	logger := New(l, level)
	logger.closer = l
	return logger, nil
}

// ParseLevel maps a config level name onto a zerolog level. An empty name
// means info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "silent", "disabled":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
}

func (l *Logger) Info(component, message string, fields map[string]interface{}) {
	if !l.logger.Info().Enabled() {
		return
	}

	event := l.logger.Info().Str("component", component)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(message)
}

func (l *Logger) Error(component string, err error, fields map[string]interface{}) {
	if !l.logger.Error().Enabled() {
		return
	}

	event := l.logger.Error().Str("component", component).Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg("operation failed")
}

func (l *Logger) Warning(component, message string, fields map[string]interface{}) {
	if !l.logger.Warn().Enabled() {
		return
	}

	event := l.logger.Warn().Str("component", component)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(message)
}

func (l *Logger) Debug(component, message string, fields map[string]interface{}) {
	if !l.logger.Debug().Enabled() {
		return
	}

	event := l.logger.Debug().Str("component", component)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(message)
}

// Close flushes and closes a rotating log file if one is open.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
