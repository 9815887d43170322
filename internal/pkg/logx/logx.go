/*
Package logx provides a structured logging wrapper based on zerolog.

It is responsible for initializing the global logger once from configuration, selecting
the output format (console or JSON) and verbosity, and providing unified helper functions
for the Debug, Info, Warn, Error and Fatal levels as well as per-component child loggers.
*/
package logx

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var initOnce sync.Once

// InitGlobalLogger initializes the global zerolog instance. Only the first call has an effect.
// Development: uses ConsoleWriter (colored/human-readable format).
// Production: uses standard JSON format.
// The level string accepts debug, info, warn, error; anything else falls back to info
// (debug in development). All logs include a timestamp and caller information.
func InitGlobalLogger(level string, isDevelopment bool) {
	initOnce.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

		logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

		if isDevelopment {
			logger = logger.Output(zerolog.ConsoleWriter{
				Out:        os.Stderr,
				NoColor:    false,
				TimeFormat: time.RFC3339,
			})
		}

		logger = logger.Level(ParseLevel(level, isDevelopment))

		log.Logger = logger.With().Caller().Logger()
	})
}

// ParseLevel maps a configured verbosity string onto a zerolog level.
func ParseLevel(level string, isDevelopment bool) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}

	if isDevelopment {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Logger returns a pointer to the global zerolog.Logger instance.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// checkFields validates that the variadic fields parameter has an even number (key-value pairs).
// If the count is odd, it logs a warning and returns nil to prevent zerolog from panicking.
func checkFields(level string, fields []any) []any {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msgf("Logx call (%s) received odd number of fields: %v. Fields ignored.", level, fields)
		return nil
	}
	return fields
}

// Debug records a log message at the Debug level.
func Debug(msg string, fields ...any) {
	fields = checkFields("Debug", fields)

	Logger().Debug().
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Info records a log message at the Info level.
// It accepts a message string and optional key-value field list.
func Info(msg string, fields ...any) {
	fields = checkFields("Info", fields)

	Logger().Info().
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Warn records a log message at the Warn level.
// It accepts a message string and optional key-value field list.
func Warn(msg string, fields ...any) {
	fields = checkFields("Warn", fields)

	Logger().Warn().
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Error records a log message at the Error level.
// It accepts an error object, a message string, and an optional key-value field list.
func Error(err error, msg string, fields ...any) {
	fields = checkFields("Error", fields)

	Logger().Error().
		Err(err).
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}

// Fatal records a log message at the Fatal level and then calls os.Exit(1) to terminate the program.
func Fatal(err error, msg string, fields ...any) {
	fields = checkFields("Fatal", fields)

	Logger().Fatal().
		Err(err).
		Fields(fields).
		CallerSkipFrame(1).
		Msg(msg)
}
