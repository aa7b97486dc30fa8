package someip

import "github.com/pkg/errors"

// Errors returned by endpoint operations.
var (
	// ErrInvalidHost is returned when no host is provided.
	ErrInvalidHost = errors.New("invalid host")
	// ErrInvalidRemote is returned when no remote address is provided.
	ErrInvalidRemote = errors.New("invalid remote address")

	// ErrEndpointClosed is returned when operating on a closed endpoint.
	ErrEndpointClosed = errors.New("endpoint closed")
	// ErrNotConnected is returned by Run before Connect succeeded.
	ErrNotConnected = errors.New("endpoint not connected")
	// ErrAlreadyConnected is returned by Connect on a connected endpoint.
	ErrAlreadyConnected = errors.New("endpoint already connected")

	// ErrPeerDisconnected is returned by Run when the service reset or
	// closed the connection.
	ErrPeerDisconnected = errors.New("peer disconnected")
	// ErrReceiverDisabled is returned when a message exceeding the maximum
	// message size arrived without magic cookies to resynchronize on.
	ErrReceiverDisabled = errors.New("receiver disabled")

	// ErrReadInFlight is returned when a second read is started.
	ErrReadInFlight = errors.New("read already in flight")
	// ErrWriteInFlight is returned when a second write is started.
	ErrWriteInFlight = errors.New("write already in flight")
)

// ErrBufferFull is returned when the send queue is full and cannot accept
// more messages. The service is not consuming fast enough; drop the message,
// use SendBlocking, or apply flow control.
var ErrBufferFull = errors.New("send buffer full")
