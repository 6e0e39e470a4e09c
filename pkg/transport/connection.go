package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sslserver/sslserver-go/pkg/log"
	"github.com/sslserver/sslserver-go/pkg/wire"
)

// Connection lifecycle states, as reported in capture events.
const (
	StateConnected = "CONNECTED"
	StateListening = "LISTENING"
	StateClosed    = "CLOSED"
)

// Connection defaults.
const (
	// DefaultSetupTimeout bounds the stream header exchange.
	DefaultSetupTimeout = 10 * time.Second

	// DefaultJoinTimeout bounds the wait for a background goroutine to exit.
	DefaultJoinTimeout = time.Second
)

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	// Provider creates the socket for Dial. Nil uses a TLSProvider with
	// system roots. Ignored by NewConnection.
	Provider SecurityProvider

	// MaxMessageSize is the largest accepted record (default: 1 MiB).
	MaxMessageSize uint32

	// SetupTimeout bounds the stream header exchange (default: 10s).
	SetupTimeout time.Duration

	// WriteTimeout bounds each Send (0 = no timeout).
	WriteTimeout time.Duration

	// JoinTimeout bounds the wait for the receive goroutine on close (default: 1s).
	JoinTimeout time.Duration

	// KeepAlive enables ping/pong probing when non-nil.
	KeepAlive *KeepAliveConfig

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger receives capture events. Nil disables capture.
	ProtocolLogger log.Logger
}

// DefaultConnectionConfig returns the default connection configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxMessageSize: DefaultMaxMessageSize,
		SetupTimeout:   DefaultSetupTimeout,
		JoinTimeout:    DefaultJoinTimeout,
	}
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = DefaultSetupTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Connection is one encrypted, record-oriented socket.
//
// A Connection delivers inbound payloads to its Observer from a single
// receive goroutine started by BeginListening. Send may be called from
// any goroutine once the connection is listening.
type Connection struct {
	id     string
	role   log.Role
	config ConnectionConfig
	logger *slog.Logger

	conn   net.Conn
	remote net.Addr
	local  net.Addr

	// mu guards the listening and closed transitions and the callback
	// hand-off. Streams are released and goroutines joined outside it.
	mu      sync.Mutex
	closed  bool
	err     error
	done    chan struct{}
	cancel  context.CancelFunc
	closing chan struct{}

	// inCallback is set while OnStarted or OnMessage runs. A close that
	// lands during a callback leaves stopPending for that goroutine, which
	// delivers OnStopped once the callback returns.
	inCallback  bool
	stopPending bool

	isClosed  atomic.Bool
	listening atomic.Bool
	started   atomic.Bool

	writeMu sync.Mutex
	writer  *FrameWriter
	reader  *FrameReader

	observerMu sync.RWMutex
	observer   Observer

	keepAlive *KeepAlive
}

// NewConnection wraps an already-connected socket. Connections created
// here carry the server role in capture events.
func NewConnection(conn net.Conn, config ConnectionConfig) *Connection {
	return newConnection(conn, config, log.RoleServer)
}

// Dial connects to host:port through the configured SecurityProvider.
// The returned connection is not listening yet.
func Dial(ctx context.Context, host string, port int, config ConnectionConfig) (*Connection, error) {
	provider := config.Provider
	if provider == nil {
		provider = NewTLSProvider(SecurityConfig{})
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := provider.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	return newConnection(conn, config, log.RoleClient), nil
}

func newConnection(conn net.Conn, config ConnectionConfig, role log.Role) *Connection {
	config = config.withDefaults()
	c := &Connection{
		id:       uuid.NewString(),
		role:     role,
		config:   config,
		conn:     conn,
		remote:   conn.RemoteAddr(),
		local:    conn.LocalAddr(),
		closing:  make(chan struct{}),
		observer: ObserverFuncs{},
	}
	c.logger = config.Logger.With("conn_id", c.id, "remote", c.remote.String())

	raw := conn
	if tlsConn, ok := conn.(*tls.Conn); ok {
		raw = tlsConn.NetConn()
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
	}

	c.captureState("", StateConnected, "")
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.remote }

// LocalAddr returns the local address.
func (c *Connection) LocalAddr() net.Addr { return c.local }

// TLSState returns the TLS connection state if the socket is a TLS connection.
func (c *Connection) TLSState() (tls.ConnectionState, bool) {
	if tlsConn, ok := c.conn.(*tls.Conn); ok {
		return tlsConn.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool { return c.isClosed.Load() }

// IsListening reports whether the connection is listening and not closed.
func (c *Connection) IsListening() bool { return c.listening.Load() }

// Err returns the cause of the close, or nil for a requested stop or an
// open connection.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// String returns a short description for logs.
func (c *Connection) String() string {
	return fmt.Sprintf("Connection(%s, %s)", c.id, c.remote)
}

// SetObserver replaces the event observer. Nil installs a no-op observer.
func (c *Connection) SetObserver(observer Observer) {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	c.observerMu.Lock()
	c.observer = observer
	c.observerMu.Unlock()
}

func (c *Connection) currentObserver() Observer {
	c.observerMu.RLock()
	defer c.observerMu.RUnlock()
	return c.observer
}

// BeginListening exchanges stream headers with the peer, starts the receive
// goroutine and notifies OnStarted.
//
// A second call returns ErrAlreadyListening. A setup failure closes the
// connection and returns an error wrapping ErrSetup.
func (c *Connection) BeginListening() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("begin listening on closed connection")
		return ErrConnectionClosed
	}
	if !c.listening.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.logger.Warn("connection already listening")
		return ErrAlreadyListening
	}
	c.mu.Unlock()

	if err := c.setupStreams(); err != nil {
		err = fmt.Errorf("%w: %w", ErrSetup, err)
		c.logger.Warn("stream setup failed", "error", err)
		c.captureError(log.LayerLifecycle, err, true, "setup")
		c.closeWithCause(err, false)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	gate := make(chan struct{})
	go c.receiveLoop(gate, c.done)
	if c.config.KeepAlive != nil {
		c.keepAlive = NewKeepAlive(*c.config.KeepAlive, c.sendPing, c.keepAliveExpired)
		c.keepAlive.Start(ctx)
	}
	// Held until OnStarted returns, so a concurrent close cannot notify
	// OnStopped first.
	c.inCallback = true
	c.started.Store(true)
	c.mu.Unlock()

	c.captureState(StateConnected, StateListening, "")
	c.logger.Debug("connection listening")

	c.notify(func(o Observer) { o.OnStarted(c) })
	c.exitCallback()
	close(gate)
	return nil
}

// setupStreams writes the local header, then reads and checks the peer's.
func (c *Connection) setupStreams() error {
	_ = c.conn.SetDeadline(time.Now().Add(c.config.SetupTimeout))
	defer c.conn.SetDeadline(time.Time{})

	writer := NewFrameWriterWithMaxSize(c.conn, c.config.MaxMessageSize)
	reader := NewFrameReaderWithMaxSize(c.conn, c.config.MaxMessageSize)
	if c.config.ProtocolLogger != nil {
		writer.SetLogger(c.config.ProtocolLogger, c.id, c.role, c.remote.String())
		reader.SetLogger(c.config.ProtocolLogger, c.id, c.role, c.remote.String())
	}

	header, err := wire.EncodeHeader()
	if err != nil {
		return err
	}
	if err := writer.WriteFrame(header); err != nil {
		return fmt.Errorf("failed to write stream header: %w", err)
	}

	frame, err := reader.ReadFrame()
	if err != nil {
		return fmt.Errorf("failed to read stream header: %w", err)
	}
	if _, err := wire.DecodeHeader(frame); err != nil {
		return err
	}

	c.writeMu.Lock()
	c.writer = writer
	c.writeMu.Unlock()
	c.reader = reader
	return nil
}

// Send encodes v as one data record and writes it.
//
// Encoding failures are returned without closing the connection. A write
// failure closes the connection and returns an error wrapping ErrTransport.
func (c *Connection) Send(v any) error {
	if c.isClosed.Load() {
		return ErrConnectionClosed
	}
	body, err := wire.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	data, err := wire.Marshal(&wire.Record{Type: wire.RecordData, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := c.writeRecord(data, false); err != nil {
		return err
	}
	if c.config.ProtocolLogger != nil {
		c.captureRecord(log.DirectionOut, body)
	}
	return nil
}

func (c *Connection) sendPing(seq uint32) error {
	data, err := wire.EncodePing(seq)
	if err != nil {
		return err
	}
	c.captureControl(log.DirectionOut, wire.RecordPing, seq)
	return c.writeRecord(data, false)
}

// writeRecord writes one encoded record. onReceiver is true when called
// from the receive goroutine.
func (c *Connection) writeRecord(data []byte, onReceiver bool) error {
	c.writeMu.Lock()
	w := c.writer
	if w == nil {
		c.writeMu.Unlock()
		if c.isClosed.Load() {
			return ErrConnectionClosed
		}
		return ErrNotReady
	}
	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	err := w.WriteFrame(data)
	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	c.writeMu.Unlock()

	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMessageTooLarge) || errors.Is(err, ErrMessageEmpty) {
		return err
	}
	if c.isClosed.Load() {
		return ErrConnectionClosed
	}
	err = fmt.Errorf("%w: %w", ErrTransport, err)
	c.logger.Warn("write failed; closing connection", "error", err)
	c.captureError(log.LayerTransport, err, true, "write")
	c.closeWithCause(err, onReceiver)
	return err
}

// receiveLoop reads records until the connection stops listening.
func (c *Connection) receiveLoop(gate <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	select {
	case <-gate:
	case <-c.closing:
		return
	}

	for c.listening.Load() {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrMessageEmpty) {
				c.dropRecord(err)
				continue
			}
			if c.isClosed.Load() {
				return
			}
			cause := fmt.Errorf("%w: %w", ErrTransport, err)
			if errors.Is(err, io.EOF) {
				c.logger.Debug("peer closed the stream")
			} else {
				c.logger.Warn("read failed; closing connection", "error", err)
				c.captureError(log.LayerTransport, cause, true, "read")
			}
			c.closeWithCause(cause, true)
			return
		}

		rec, err := wire.DecodeRecord(frame)
		if err != nil {
			c.dropRecord(err)
			continue
		}
		if !c.dispatch(rec) {
			return
		}
	}
}

// dropRecord logs an undecodable record. The connection stays open.
func (c *Connection) dropRecord(err error) {
	err = fmt.Errorf("%w: %w", ErrDecode, err)
	c.logger.Warn("dropping undecodable record", "error", err)
	c.captureError(log.LayerRecord, err, false, "decode")
}

// dispatch handles one record. It returns false when the connection was
// closed because the observer panicked.
func (c *Connection) dispatch(rec *wire.Record) (ok bool) {
	switch rec.Type {
	case wire.RecordPing:
		c.captureControl(log.DirectionIn, wire.RecordPing, rec.Seq)
		if data, err := wire.EncodePong(rec.Seq); err == nil {
			c.captureControl(log.DirectionOut, wire.RecordPong, rec.Seq)
			_ = c.writeRecord(data, true)
		}
		return true
	case wire.RecordPong:
		c.captureControl(log.DirectionIn, wire.RecordPong, rec.Seq)
		if c.keepAlive != nil {
			c.keepAlive.PongReceived(rec.Seq)
		}
		return true
	}

	if c.config.ProtocolLogger != nil {
		c.captureRecord(log.DirectionIn, rec.Body)
	}

	if !c.enterCallback() {
		return false
	}
	defer c.exitCallback()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrObserverPanic, r)
			c.logger.Error("observer panicked; closing connection", "panic", r)
			c.captureError(log.LayerLifecycle, err, true, "observer")
			c.closeWithCause(err, true)
			ok = false
		}
	}()

	msg := Message{body: rec.Body}
	c.currentObserver().OnMessage(c, msg)
	return true
}

func (c *Connection) keepAliveExpired() {
	c.logger.Warn("peer stopped answering pings; closing connection")
	c.captureError(log.LayerLifecycle, ErrKeepAliveTimeout, true, "keepalive")
	c.closeWithCause(ErrKeepAliveTimeout, false)
}

// StopListening closes the connection. It is idempotent and safe to call
// from any goroutine, including observer callbacks. Called from a
// callback, it returns at once and OnStopped follows the callback.
func (c *Connection) StopListening() {
	c.closeWithCause(nil, false)
}

// enterCallback marks an observer callback as running. It returns false
// once the connection is closed.
func (c *Connection) enterCallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.inCallback = true
	return true
}

// exitCallback clears the callback mark and finishes a close that was
// requested while the callback ran.
func (c *Connection) exitCallback() {
	c.mu.Lock()
	c.inCallback = false
	pending := c.stopPending
	c.stopPending = false
	cause := c.err
	c.mu.Unlock()

	if pending {
		c.finishClose(cause)
	}
}

// closeWithCause runs the close sequence once: mark closed, release the
// output stream, close the socket, join the receive goroutine, notify
// OnStopped. onReceiver is true when called from the receive goroutine,
// which is never joined by itself.
func (c *Connection) closeWithCause(cause error, onReceiver bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	c.isClosed.Store(true)
	c.listening.Store(false)
	close(c.closing)
	done := c.done
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}

	// Unblock an in-flight write so the output stream can be released.
	_ = c.conn.SetDeadline(time.Now())
	c.writeMu.Lock()
	c.writer = nil
	c.writeMu.Unlock()

	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("socket close failed", "error", err)
	}

	c.mu.Lock()
	if c.inCallback {
		c.stopPending = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if done != nil && !onReceiver {
		select {
		case <-done:
		case <-time.After(c.config.JoinTimeout):
			c.logger.Warn("receive goroutine did not exit in time; abandoning it",
				"timeout", c.config.JoinTimeout)
		}
	}
	c.finishClose(cause)
}

// finishClose records the closed state and notifies OnStopped. It runs
// exactly once per connection.
func (c *Connection) finishClose(cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	c.captureState(StateListening, StateClosed, reason)
	c.logger.Debug("connection closed", "cause", cause)

	c.notify(func(o Observer) { o.OnStopped(c) })
}

// notify calls the observer, logging a panic instead of propagating it.
func (c *Connection) notify(fn func(Observer)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("observer panicked", "panic", r)
		}
	}()
	fn(c.currentObserver())
}

func (c *Connection) captureEvent(e log.Event) {
	if c.config.ProtocolLogger == nil {
		return
	}
	e.Timestamp = time.Now()
	e.ConnectionID = c.id
	e.LocalRole = c.role
	e.RemoteAddr = c.remote.String()
	c.config.ProtocolLogger.Log(e)
}

func (c *Connection) captureState(oldState, newState, reason string) {
	c.captureEvent(log.Event{
		Layer:    log.LayerLifecycle,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (c *Connection) captureRecord(direction log.Direction, body []byte) {
	diag, err := wire.Diagnose(body)
	if err != nil {
		diag = ""
	}
	if len(diag) > MaxLogFrameDataSize {
		diag = diag[:MaxLogFrameDataSize]
	}
	c.captureEvent(log.Event{
		Direction: direction,
		Layer:     log.LayerRecord,
		Category:  log.CategoryMessage,
		Record: &log.RecordEvent{
			Type:        wire.RecordData,
			PayloadSize: len(body),
			Diagnostic:  diag,
		},
	})
}

func (c *Connection) captureControl(direction log.Direction, typ wire.RecordType, seq uint32) {
	c.captureEvent(log.Event{
		Direction: direction,
		Layer:     log.LayerRecord,
		Category:  log.CategoryControl,
		Control:   &log.ControlEvent{Type: typ, Seq: seq},
	})
}

func (c *Connection) captureError(layer log.Layer, err error, fatal bool, op string) {
	c.captureEvent(log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Fatal:   fatal,
			Context: op,
		},
	})
}
