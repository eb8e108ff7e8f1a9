/*
Package logx provides a structured logging wrapper based on zerolog.

It is responsible for initializing the global logger, configuring the output format
(JSON or console) based on the environment, and providing unified helper functions
for logging levels like Info, Warn, Error, and Fatal.
*/
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitGlobalLogger initializes the global zerolog instance.
// Development: Debug level, uses ConsoleWriter (colored/human-readable format).
// Production: Info level, uses standard JSON format.
// All logs include a Unix timestamp and caller information.
func InitGlobalLogger(isDevelopment bool) {
	initLogger(os.Stdout, isDevelopment)
}

func initLogger(out io.Writer, isDevelopment bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(out).With().Timestamp().Logger()

	if isDevelopment {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    false,
			TimeFormat: time.RFC3339,
		})
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	log.Logger = logger.With().Caller().Logger()
}

// Logger returns a pointer to the global zerolog.Logger instance.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// ForConnection returns the logger of one relay connection. kind is "chat" or "signal".
func ForConnection(kind, identityID, connID string) zerolog.Logger {
	return Logger().With().
		Str("component", kind).
		Str("identity_id", identityID).
		Str("conn_id", connID).
		Logger()
}

// checkFields drops an odd-length key-value list, which zerolog would otherwise panic on.
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

// emit writes msg with err and key-value fields, attributing the caller of the exported helper.
func emit(e *zerolog.Event, level string, err error, msg string, fields []any) {
	if err != nil {
		e = e.Err(err)
	}
	e.Fields(checkFields(level, fields)).
		CallerSkipFrame(2).
		Msg(msg)
}

func Debug(msg string, fields ...any) {
	emit(Logger().Debug(), "Debug", nil, msg, fields)
}

func Info(msg string, fields ...any) {
	emit(Logger().Info(), "Info", nil, msg, fields)
}

func Warn(msg string, fields ...any) {
	emit(Logger().Warn(), "Warn", nil, msg, fields)
}

func Error(err error, msg string, fields ...any) {
	emit(Logger().Error(), "Error", err, msg, fields)
}

// Fatal logs at Fatal level and exits the process.
func Fatal(err error, msg string, fields ...any) {
	emit(Logger().Fatal(), "Fatal", err, msg, fields)
}
