// Package logger wrapper for zerolog
package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Config logger settings
type Config struct {
	Level           string
	TimeFieldFormat string
	PrettyPrint     bool
	ErrorStack      bool
	ShowCaller      bool
	FileName        string
}

var defaultConfig = Config{
	Level:           "debug",
	TimeFieldFormat: time.RFC3339,
	PrettyPrint:     true,
}

// Logger object capable of interacting with Logger
type Logger struct {
	zero        zerolog.Logger
	level       string
	prettyPrint bool
	showCaller  bool
	extWriter   io.Writer
}

// NewDefault creates Logger with default settings
func NewDefault() *Logger {
	return New(defaultConfig)
}

// New creates a new Logger
func New(config Config) *Logger {
	zerolog.SetGlobalLevel(getZerologLevel(config.Level))
	zerolog.TimeFieldFormat = config.TimeFieldFormat
	if config.ErrorStack {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	}

	l := &Logger{
		level:       config.Level,
		prettyPrint: config.PrettyPrint,
		showCaller:  config.ShowCaller,
	}

	if config.FileName != "" {
		var err error
		l.extWriter, err = os.Create(config.FileName)
		if err != nil {
			log.Fatalf("failed to create log file: %v", err)
		}
	}

	l.compile()

	return l
}

// Debug starts a new message with debug level
func (l *Logger) Debug() *zerolog.Event {
	return l.zero.Debug()
}

// Info starts a new message with info level
func (l *Logger) Info() *zerolog.Event {
	return l.zero.Info()
}

// Warn starts a new message with warn level
func (l *Logger) Warn() *zerolog.Event {
	return l.zero.Warn()
}

// Error starts a new message with error level
func (l *Logger) Error() *zerolog.Event {
	return l.zero.Error()
}

// With creates a child logger context
func (l *Logger) With() zerolog.Context {
	return l.zero.With()
}

// Fatal sends the event with fatal level
func (l *Logger) Fatal(v ...interface{}) {
	l.zero.Fatal().Msgf("%v", v)
}

// Fatalf sends the event with formatted msg with fatal level
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.zero.Fatal().Msgf(format, v...)
}

// Duplicate creates a copy of the logger writing through the same
// outputs; used to bind a per-stage field.
func (l *Logger) Duplicate(zero zerolog.Logger) *Logger {
	dup := &Logger{
		level:       l.level,
		prettyPrint: l.prettyPrint,
		showCaller:  l.showCaller,
		extWriter:   l.extWriter,
	}
	dup.zero = zero.Output(dup.writer()).With().Logger()
	return dup
}

func (l *Logger) compile() {
	l.zero = zerolog.New(l.writer()).With().Timestamp().Logger()
	if l.showCaller {
		l.zero = l.zero.With().Caller().Logger()
	}
}

func (l *Logger) writer() io.Writer {
	var out io.Writer = os.Stdout
	if l.prettyPrint {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	if l.extWriter != nil {
		return zerolog.MultiLevelWriter(out, l.extWriter)
	}
	return out
}

func getZerologLevel(lvl string) zerolog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}
