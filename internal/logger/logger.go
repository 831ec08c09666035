// Package logger provides structured logging for vectune.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with vectune-specific functionality.
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
		Str("service", "vectune").
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

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }
func (l *Logger) Fatal(msg string) *zerolog.Event { return l.zlog.Fatal().Str("msg", msg) }

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// CallLogger returns a logger scoped to one engine RPC call.
func (l *Logger) CallLogger(name string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "call").
			Str("call", name).
			Logger(),
	}
}

// GraphLogger returns a logger scoped to graph-engine operations.
func (l *Logger) GraphLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "graph").
			Str("operation", operation).
			Logger(),
	}
}

// LogCall logs one completed engine call with structured fields.
func (l *Logger) LogCall(name string, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "call").
		Str("call", name).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "call").
			Str("call", name).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("call completed")
}

// LogTrap logs a call that trapped and was rolled back.
func (l *Logger) LogTrap(name string, cause interface{}) {
	l.zlog.Error().
		Str("component", "call").
		Str("call", name).
		Interface("panic", cause).
		Msg("call trapped, state rolled back")
}

// LogBatchStep logs one next_batch_step drain.
func (l *Logger) LogBatchStep(applied, remaining int, exhausted bool) {
	l.zlog.Debug().
		Str("component", "batch").
		Int("applied", applied).
		Int("remaining", remaining).
		Bool("exhausted", exhausted).
		Msg("batch step completed")
}

// LogInstanceStart logs instance startup.
func (l *Logger) LogInstanceStart(port int, segmentSource string) {
	l.zlog.Info().
		Str("event", "instance_start").
		Int("port", port).
		Str("segments", segmentSource).
		Msg("vectune instance starting")
}

// LogInstanceReady logs when the instance is ready to serve.
func (l *Logger) LogInstanceReady(port int) {
	l.zlog.Info().
		Str("event", "instance_ready").
		Int("port", port).
		Msg("vectune instance ready to accept connections")
}

// LogInstanceShutdown logs instance shutdown.
func (l *Logger) LogInstanceShutdown() {
	l.zlog.Info().
		Str("event", "instance_shutdown").
		Msg("vectune instance shutting down")
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
