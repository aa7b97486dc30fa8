package someip

import (
	"log/slog"

	"github.com/rs/zerolog"
)

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// zerologLogger adapts a zerolog.Logger to Logger.
type zerologLogger struct {
	l zerolog.Logger
}

// ZerologLogger returns a Logger writing to l. Key-value pairs become
// zerolog fields; a trailing key without value is logged under "!BADKEY".
func ZerologLogger(l zerolog.Logger) Logger {
	return zerologLogger{l: l}
}

func (z zerologLogger) Debug(msg string, args ...any) { z.log(z.l.Debug(), msg, args) }
func (z zerologLogger) Info(msg string, args ...any)  { z.log(z.l.Info(), msg, args) }
func (z zerologLogger) Warn(msg string, args ...any)  { z.log(z.l.Warn(), msg, args) }
func (z zerologLogger) Error(msg string, args ...any) { z.log(z.l.Error(), msg, args) }

func (z zerologLogger) log(e *zerolog.Event, msg string, args []any) {
	for len(args) > 0 {
		key, ok := args[0].(string)
		if !ok || len(args) == 1 {
			e = e.Interface("!BADKEY", args[0])
			args = args[1:]
			continue
		}
		if err, isErr := args[1].(error); isErr {
			e = e.AnErr(key, err)
		} else {
			e = e.Interface(key, args[1])
		}
		args = args[2:]
	}
	e.Msg(msg)
}
