// Package zerolog adapts rs/zerolog to the entitlement.Logger interface,
// so unlock grants, charge reversals, and sweep passes land in the same
// JSON stream as the rest of the application.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// Logger forwards entitlement events to a zerolog.Logger. Level filtering
// stays with zerolog: a logger set to WarnLevel drops the issuer's Debug
// re-entry lines and Info grant lines without the issuer knowing.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger wraps an existing zerolog.Logger. Pass a sub-logger with
// preset fields (service name, region) to tag every entitlement line.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...entitlement.Field) {
	l.emit(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...entitlement.Field) {
	l.emit(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...entitlement.Field) {
	l.emit(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...entitlement.Field) {
	l.emit(l.logger.Error(), msg, fields)
}

// emit attaches the structured fields and writes the line. A nil event
// means the level is filtered out and there is nothing to do.
func (l *Logger) emit(event *zerolog.Event, msg string, fields []entitlement.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}
