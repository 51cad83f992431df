package bundling

// Logger receives diagnostics from the bundler and queue as a message plus
// alternating key-value pairs. Render failures and notifier errors are
// reported here rather than failing a pass.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything; it is the default when no logger option is
// given.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
