package someip

import (
	"time"
)

// ErrorAction defines the action to take when a write error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue drops the failed message and keeps the connection.
	Continue
)

// options holds the configuration for an endpoint.
type options struct {
	logger Logger

	// onError is called when a write fails.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	queueSize         int           // size of the send queue
	initialBufferSize int           // initial receive buffer capacity
	shrinkThreshold   int           // receive buffer shrink pressure threshold
	maxMessageSize    int           // maximum size of a single message
	maxMessageSizeSet bool          // maxMessageSize was given explicitly
	localPort         uint16        // fixed local port, 0 for none
	traceSize         int64         // received bytes kept for diagnostics
	dialTimeout       time.Duration // timeout of a single connect attempt
}

// Option is a function that configures endpoint options.
type Option func(*options)

// BufferSizeOption returns an Option that sets the size of the send queue.
// A larger queue allows more messages to be queued before Send fails.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.queueSize = size
	}
}

// InitialBufferSizeOption sets the initial receive buffer capacity. The
// buffer is shrunk back to this size when idle.
func InitialBufferSizeOption(size int) Option {
	return func(o *options) {
		o.initialBufferSize = size
	}
}

// BufferShrinkThresholdOption sets how many consecutive messages must leave
// the receive buffer less than half used before it is shrunk. 0 disables
// shrinking.
func BufferShrinkThresholdOption(threshold int) Option {
	return func(o *options) {
		o.shrinkThreshold = threshold
	}
}

// MessageMaxSize returns an Option that sets the maximum message size,
// header included. MessageSizeUnlimited disables the limit. Without this
// option the limit is 1MB.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
		o.maxMessageSizeSet = true
	}
}

// LocalPortOption binds the endpoint to a fixed local port before
// connecting. Binding is best effort.
func LocalPortOption(port uint16) Option {
	return func(o *options) {
		o.localPort = port
	}
}

// TraceSizeOption keeps the last size received bytes and logs them when the
// stream turns out to be corrupt. 0 disables the trace.
func TraceSizeOption(size int64) Option {
	return func(o *options) {
		o.traceSize = size
	}
}

// DialTimeoutOption limits a single connect attempt.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// OnErrorOption returns an Option that sets the write error callback.
// Return Disconnect to close the connection, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
