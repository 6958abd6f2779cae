// Package logger provides structured logging for the storage engine.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific functionality.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "persistit").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message.
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// EngineLogger returns a logger scoped to top-level engine lifecycle
// events (open, recovery, close).
func (l *Logger) EngineLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "engine").Logger()}
}

// JournalLogger returns a logger scoped to journal/checkpoint/recovery
// activity.
func (l *Logger) JournalLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "journal").Logger()}
}

// LogRecovery logs the outcome of a crash-recovery pass.
func (l *Logger) LogRecovery(records, committed, aborted, appliedPages int, duration time.Duration) {
	l.zlog.Info().
		Str("event", "recovery_complete").
		Int("records", records).
		Int("committed_txns", committed).
		Int("aborted_txns", aborted).
		Int("applied_pages", appliedPages).
		Dur("duration_ms", duration).
		Msg("recovery complete")
}

// LogCheckpoint logs a completed checkpoint.
func (l *Logger) LogCheckpoint(dirtyPages, activeTxns int, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("event", "checkpoint").
		Int("dirty_pages", dirtyPages).
		Int("active_txns", activeTxns).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("event", "checkpoint").
			Err(err)
	}
	event.Msg("checkpoint completed")
}

// LogEngineStart logs engine startup.
func (l *Logger) LogEngineStart(dataPath, journalPath string, volumes int) {
	l.zlog.Info().
		Str("event", "engine_start").
		Str("datapath", dataPath).
		Str("journalpath", journalPath).
		Int("volumes", volumes).
		Msg("engine opening")
}

// LogEngineShutdown logs engine shutdown.
func (l *Logger) LogEngineShutdown() {
	l.zlog.Info().
		Str("event", "engine_shutdown").
		Msg("engine closing")
}

// Global logger instance.
var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
