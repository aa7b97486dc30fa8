// Package someip implements the client side of a reliable SOME/IP
// endpoint: it connects to one service over TCP, reassembles the incoming
// byte stream into SOME/IP messages and sends queued messages back.
//
// Services may interleave magic cookie messages with regular traffic. Once a
// cookie has been seen the endpoint uses cookies to skip corrupt data and
// marks its own outgoing messages with client cookies.
package someip

import (
	"context"
	"encoding/hex"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/armon/circbuf"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of an endpoint.
type State int32

const (
	// StateIdle is an endpoint without a connection. New endpoints and
	// endpoints whose service disconnected are idle.
	StateIdle State = iota
	// StateConnecting is set while Connect dials the service.
	StateConnecting
	// StateConnected is an endpoint with an open connection.
	StateConnected
	// StateClosing is set while Close releases the endpoint.
	StateClosing
	// StateClosed is final.
	StateClosed
)

// String returns the lower case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Default configuration values.
const (
	// defaultQueueSize is the default size of the send queue.
	defaultQueueSize = 16
	// defaultDialTimeout bounds a single connect attempt.
	defaultDialTimeout = 5 * time.Second
	// defaultMaxMessageSize is the default maximum size of a single message (1MB).
	defaultMaxMessageSize = 1024 * 1024
)

// Endpoint is a TCP client endpoint connected to a single SOME/IP service.
//
// Incoming messages are handed to the Host. The receive side is driven by a
// single goroutine started by Run; Send may be called from any goroutine.
type Endpoint struct {
	remote *net.TCPAddr
	host   Host
	logger Logger
	opts   options

	mu      sync.Mutex
	state   State
	rawConn *net.TCPConn
	cancel  context.CancelFunc

	// owned by the read goroutine
	deframer *Deframer
	trace    *circbuf.Buffer
	meta     Metadata

	cookies  atomic.Bool
	disabled atomic.Bool
	reading  atomic.Bool
	writing  atomic.Bool

	sendMsg   chan []byte
	closeOnce sync.Once
}

// NewEndpoint creates an idle endpoint for the service at remote.
func NewEndpoint(remote *net.TCPAddr, host Host, opt ...Option) (*Endpoint, error) {
	if remote == nil {
		return nil, ErrInvalidRemote
	}
	if host == nil {
		return nil, ErrInvalidHost
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	e := &Endpoint{
		remote:  remote,
		host:    host,
		logger:  opts.logger,
		opts:    opts,
		sendMsg: make(chan []byte, opts.queueSize),
	}
	e.deframer = NewDeframer(DeframerConfig{
		InitialBufferSize: opts.initialBufferSize,
		ShrinkThreshold:   opts.shrinkThreshold,
		MaxMessageSize:    opts.maxMessageSize,
		Logger:            opts.logger,
	}, e.forward)

	if opts.traceSize > 0 {
		trace, err := circbuf.NewBuffer(opts.traceSize)
		if err != nil {
			return nil, errors.Wrap(err, "create receive trace")
		}
		e.trace = trace
	}

	return e, nil
}

// checkOptions sets default values for endpoint options.
func checkOptions(opts *options) {
	if opts.queueSize <= 0 {
		opts.queueSize = defaultQueueSize
	}

	if opts.initialBufferSize <= 0 {
		opts.initialBufferSize = HeaderSize
	}

	if opts.shrinkThreshold < 0 {
		opts.shrinkThreshold = 0
	}

	if !opts.maxMessageSizeSet {
		opts.maxMessageSize = defaultMaxMessageSize
	} else if opts.maxMessageSize < 0 {
		opts.maxMessageSize = MessageSizeUnlimited
	}

	if opts.traceSize < 0 {
		opts.traceSize = 0
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// State returns the current lifecycle state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start connects and then runs the endpoint until the connection ends.
func (e *Endpoint) Start(ctx context.Context) error {
	if err := e.Connect(ctx); err != nil {
		return err
	}
	return e.Run(ctx)
}

// Connect opens the connection to the service. If a local port is
// configured the socket is bound to it first; a failing bind is logged and
// the connection proceeds from an ephemeral port.
func (e *Endpoint) Connect(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateClosing, StateClosed:
		e.mu.Unlock()
		return ErrEndpointClosed
	case StateConnecting, StateConnected:
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.state = StateConnecting
	e.mu.Unlock()

	conn, err := e.dial(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		if e.state == StateConnecting {
			e.state = StateIdle
		}
		return errors.Wrapf(err, "connect to %s", e.remote)
	}
	if e.state != StateConnecting {
		_ = conn.Close()
		return ErrEndpointClosed
	}

	// Nagle off
	_ = conn.SetNoDelay(true)

	e.rawConn = conn
	e.deframer.Reset()
	e.cookies.Store(false)
	e.disabled.Store(false)
	if e.trace != nil {
		e.trace.Reset()
	}
	e.state = StateConnected

	e.logger.Info("connection established", "addr", e.remote, "local_addr", conn.LocalAddr())
	e.logger.Debug("endpoint options", "addr", e.remote,
		"queue_size", e.opts.queueSize,
		"initial_buffer_size", e.opts.initialBufferSize,
		"shrink_threshold", e.opts.shrinkThreshold,
		"max_message_size", e.opts.maxMessageSize)
	return nil
}

func (e *Endpoint) dial(ctx context.Context) (*net.TCPConn, error) {
	d := net.Dialer{
		Timeout: e.opts.dialTimeout,
		Control: reuseAddrControl,
	}

	if e.opts.localPort != 0 {
		d.LocalAddr = &net.TCPAddr{Port: int(e.opts.localPort)}
		conn, err := d.DialContext(ctx, "tcp", e.remote.String())
		if err == nil {
			return conn.(*net.TCPConn), nil
		}
		if !isBindError(err) {
			return nil, err
		}
		e.logger.Warn("error binding socket", "port", e.opts.localPort, "error", err)
		d.LocalAddr = nil
	}

	conn, err := d.DialContext(ctx, "tcp", e.remote.String())
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

func isBindError(err error) bool {
	var sysErr *os.SyscallError
	return errors.As(err, &sysErr) && sysErr.Syscall == "bind"
}

// Run starts the endpoint's read and write loops on the current connection.
// It blocks until the context is canceled, the endpoint is closed, the
// service disconnects or a write fails with Disconnect.
//
// Run returns ErrPeerDisconnected when the service reset or closed the
// connection. The endpoint is then idle again and may be reconnected.
func (e *Endpoint) Run(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.state == StateClosing || e.state == StateClosed:
		e.mu.Unlock()
		return ErrEndpointClosed
	case e.state != StateConnected || e.rawConn == nil:
		e.mu.Unlock()
		return ErrNotConnected
	case e.cancel != nil:
		e.mu.Unlock()
		return ErrReadInFlight
	}
	conn := e.rawConn
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	group, child := errgroup.WithContext(ctx)

	// A blocked Read only returns once the socket is closed.
	stop := context.AfterFunc(child, func() {
		_ = conn.Close()
	})
	defer stop()

	group.Go(func() error {
		return e.readLoop(child, conn)
	})

	group.Go(func() error {
		return e.writeLoop(child, conn)
	})

	err := group.Wait()
	e.closeConn(conn)

	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Info("connection closed with error", "addr", e.remote, "error", err)
	} else {
		e.logger.Info("connection closed", "addr", e.remote)
	}

	return err
}

// closeConn shuts the connection down after Run and returns the endpoint
// to idle unless it is being closed.
func (e *Endpoint) closeConn(conn *net.TCPConn) {
	_ = conn.CloseWrite()
	_ = conn.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rawConn == conn {
		e.rawConn = nil
	}
	e.cancel = nil
	if e.state == StateConnected {
		e.state = StateIdle
	}
}

// Close releases the endpoint. The host is told to release the configured
// local port before the socket goes away. Safe to call multiple times.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = StateClosing
		conn, cancel := e.rawConn, e.cancel
		e.mu.Unlock()

		if e.opts.localPort != 0 {
			e.host.ReleasePort(e.opts.localPort, true)
		}

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}

		e.mu.Lock()
		e.state = StateClosed
		e.rawConn = nil
		e.mu.Unlock()

		e.logger.Info("endpoint closed", "addr", e.remote)
	})
	return err
}

// IsClosed returns true if the endpoint has been closed.
func (e *Endpoint) IsClosed() bool {
	s := e.State()
	return s == StateClosing || s == StateClosed
}

// Send queues a message without blocking.
//
// Returns:
//   - nil: message was queued (not yet sent)
//   - ErrBufferFull: send queue is full, message was NOT queued
//   - ErrEndpointClosed: endpoint is closed
//
// The message body must not be modified after Send.
func (e *Endpoint) Send(msg Message) error {
	if e.IsClosed() {
		return ErrEndpointClosed
	}

	select {
	case e.sendMsg <- msg.Body():
		return nil
	default:
		return ErrBufferFull
	}
}

// SendBlocking queues a message, blocking until there is room in the send
// queue or the context is canceled.
func (e *Endpoint) SendBlocking(ctx context.Context, msg Message) error {
	if e.IsClosed() {
		return ErrEndpointClosed
	}

	select {
	case e.sendMsg <- msg.Body():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the address of the service.
func (e *Endpoint) Addr() net.Addr {
	return e.remote
}

// RemoteAddress returns the service's IP address, or false if it is
// unspecified.
func (e *Endpoint) RemoteAddress() (net.IP, bool) {
	if e.remote.IP == nil || e.remote.IP.IsUnspecified() {
		return nil, false
	}
	return e.remote.IP, true
}

// LocalPort returns the local port of the current connection, or 0.
func (e *Endpoint) LocalPort() uint16 {
	return e.connPort(func(c *net.TCPConn) net.Addr { return c.LocalAddr() })
}

// RemotePort returns the remote port of the current connection, or 0.
func (e *Endpoint) RemotePort() uint16 {
	return e.connPort(func(c *net.TCPConn) net.Addr { return c.RemoteAddr() })
}

func (e *Endpoint) connPort(addr func(*net.TCPConn) net.Addr) uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rawConn == nil {
		return 0
	}
	if a, ok := addr(e.rawConn).(*net.TCPAddr); ok {
		return uint16(a.Port)
	}
	return 0
}

// ReceiverDisabled reports whether reading stopped on the current
// connection because of an oversize message without magic cookies.
func (e *Endpoint) ReceiverDisabled() bool {
	return e.disabled.Load()
}

// IsReliable reports whether the endpoint runs over a reliable transport.
func (e *Endpoint) IsReliable() bool { return true }

// IsLocal reports whether the endpoint connects to a local routing host.
func (e *Endpoint) IsLocal() bool { return false }

// readLoop reads from the connection and feeds the deframer until the
// context is canceled or the service disconnects.
func (e *Endpoint) readLoop(ctx context.Context, conn *net.TCPConn) error {
	if !e.reading.CompareAndSwap(false, true) {
		return ErrReadInFlight
	}
	defer e.reading.Store(false)

	e.meta = Metadata{Destination: net.IPv4zero, Client: RoutingClient}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		e.meta.RemoteAddr = addr.IP
		e.meta.RemotePort = uint16(addr.Port)
	}

	for {
		buf := e.deframer.ReadBuffer()
		if buf == nil {
			// Without cookies there is no safe point to continue from.
			e.logger.Error("receiver disabled", "addr", e.remote)
			<-ctx.Done()
			return ctx.Err()
		}

		n, err := conn.Read(buf)
		if n > 0 {
			e.consume(buf[:n])
		}
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			e.logger.Debug("read aborted", "addr", e.remote)
			return ctx.Err()
		case isDisconnect(err):
			e.logger.Info("connection reset by peer", "addr", e.remote, "error", err)
			return errors.Wrap(ErrPeerDisconnected, err.Error())
		case errors.Is(err, net.ErrClosed):
			return ErrEndpointClosed
		default:
			e.logger.Debug("read error", "addr", e.remote, "error", err)
		}
	}
}

func (e *Endpoint) consume(data []byte) {
	if e.trace != nil {
		_, _ = e.trace.Write(data)
	}

	res := e.deframer.Consume(len(data))
	if e.deframer.CookiesEnabled() && !e.cookies.Load() {
		e.cookies.Store(true)
	}
	if res.Disabled {
		e.disabled.Store(true)
	}

	if res.Corrupted && e.trace != nil {
		e.logger.Error("corrupt stream", "addr", e.remote,
			"skipped", res.Skipped,
			"recent", hex.EncodeToString(e.trace.Bytes()))
	}
}

// isDisconnect reports whether a read error means the service is gone.
// ETIMEDOUT is raised when keepalive probes go unanswered.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

func (e *Endpoint) forward(msg []byte) {
	e.host.OnMessage(msg, e, e.meta)
}

// writeLoop sends queued messages until the context is canceled or a
// write fails with Disconnect.
func (e *Endpoint) writeLoop(ctx context.Context, conn *net.TCPConn) error {
	if !e.writing.CompareAndSwap(false, true) {
		return ErrWriteInFlight
	}
	defer e.writing.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-e.sendMsg:
			if err := e.write(conn, data); err != nil {
				return err
			}
		}
	}
}

// write sends one message in a single Write call.
// If an error occurs and onError returns Disconnect, the error is propagated.
// Otherwise, the message is dropped and writing continues.
func (e *Endpoint) write(conn *net.TCPConn, data []byte) error {
	_, err := conn.Write(e.frame(data))
	if err != nil {
		e.logger.Debug("write error", "addr", e.remote, "error", err)
		if e.opts.onError(err) == Disconnect {
			return errors.Wrap(err, "write")
		}
	}
	return nil
}

// frame prepends a client cookie once the service has sent cookies and the
// result still fits the maximum message size.
func (e *Endpoint) frame(data []byte) []byte {
	if !e.cookies.Load() {
		return data
	}
	if e.opts.maxMessageSize != MessageSizeUnlimited &&
		len(data)+CookieSize > e.opts.maxMessageSize {
		e.logger.Warn("packet full, cannot insert magic cookie", "addr", e.remote, "size", len(data))
		return data
	}

	framed := make([]byte, CookieSize+len(data))
	copy(framed, ClientCookie[:])
	copy(framed[CookieSize:], data)
	return framed
}
