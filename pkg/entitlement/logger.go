package entitlement

// Field is a structured key/value pair attached to a log line, such as
// the account id, component, or credits charged on an unlock.
type Field struct {
	Key   string
	Value interface{}
}

// Logger receives structured events from the issuer, the sweeper, and the
// gate middlewares. Grant and reload outcomes log at Info, declared-value
// mismatches and charge reversals at Warn, and failed reversals at Error.
// Adapt a real logger via logger/zerolog or implement these four methods.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything. It is the default when Config.Logger
// is nil, so unlock handling never requires a logging backend.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
