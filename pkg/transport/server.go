package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sslserver/sslserver-go/pkg/log"
)

// Server defaults.
const (
	// DefaultPort is used when ServerConfig.Port is zero.
	DefaultPort = 4444

	// PortAny binds an ephemeral port.
	PortAny = -1

	// DefaultBacklog is used when the backlog passed to NewServer is below one.
	DefaultBacklog = 10

	// OverloadNotice is sent as the first message to connections admitted
	// over the backlog.
	OverloadNotice = "Too many connections currently"
)

// Server lifecycle states, as reported in capture events.
const (
	StateServerRunning = "RUNNING"
	StateServerStopped = "STOPPED"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Port to listen on. Zero means DefaultPort, PortAny an ephemeral port.
	Port int

	// JoinTimeout bounds the wait for the accept goroutine on stop (default: 1s).
	JoinTimeout time.Duration

	// Connection configures every accepted connection. Its Provider is ignored.
	//
	// The TLS handshake and header exchange of an accepted connection run
	// on the accept goroutine, so a peer that stalls during setup delays
	// further admissions by up to Connection.SetupTimeout.
	Connection ConnectionConfig

	// Logger receives operational logs. Nil discards them. Also used by
	// accepted connections unless Connection.Logger is set.
	Logger *slog.Logger

	// ProtocolLogger receives capture events. Also used by accepted
	// connections unless Connection.ProtocolLogger is set.
	ProtocolLogger log.Logger
}

// Server accepts encrypted connections and forwards their events to an
// upstream Observer.
type Server struct {
	upstream Observer
	provider SecurityProvider
	backlog  int
	config   ServerConfig
	logger   *slog.Logger
	hooks    Observer

	// lifecycleMu serializes BeginListening and StopListening. mu guards
	// listener and done and is never held across a callback.
	lifecycleMu sync.Mutex
	mu          sync.Mutex
	listener    net.Listener
	done        chan struct{}
	running     atomic.Bool

	conns   map[*Connection]struct{}
	connsMu sync.RWMutex
}

// NewServer creates a server. A backlog below one uses DefaultBacklog.
// A nil observer discards events.
func NewServer(observer Observer, provider SecurityProvider, backlog int, config ServerConfig) *Server {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	if backlog < 1 {
		backlog = DefaultBacklog
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = DefaultJoinTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Connection.Logger == nil {
		config.Connection.Logger = config.Logger
	}
	if config.Connection.ProtocolLogger == nil {
		config.Connection.ProtocolLogger = config.ProtocolLogger
	}

	s := &Server{
		upstream: observer,
		provider: provider,
		backlog:  backlog,
		config:   config,
		logger:   config.Logger,
		conns:    make(map[*Connection]struct{}),
	}
	s.hooks = ObserverFuncs{
		Started: s.connectionStarted,
		Message: s.connectionMessage,
		Stopped: s.connectionStopped,
	}
	return s
}

// Backlog returns the soft connection limit.
func (s *Server) Backlog() int { return s.backlog }

// Port returns the configured port.
func (s *Server) Port() int { return s.config.Port }

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool { return s.running.Load() }

// BeginListening binds the listener and starts the accept goroutine.
//
// The bind happens before return, so Addr is valid on success. A bind
// failure leaves the server stopped and returns an error wrapping ErrSetup.
func (s *Server) BeginListening() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("server already running")
		return ErrAlreadyRunning
	}
	if s.provider == nil {
		s.running.Store(false)
		return fmt.Errorf("%w: %w", ErrSetup, ErrNoProvider)
	}

	port := s.config.Port
	if port == PortAny {
		port = 0
	}
	ln, err := s.provider.Listen(port, s.backlog)
	if err != nil {
		s.running.Store(false)
		err = fmt.Errorf("%w: %w", ErrSetup, err)
		s.logger.Error("failed to bind listener", "port", port, "error", err)
		s.captureState(StateServerStopped, StateServerStopped, err.Error())
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.listener = ln
	s.done = done
	s.mu.Unlock()
	go s.acceptLoop(ln, done)

	s.logger.Info("server listening", "addr", ln.Addr().String(), "backlog", s.backlog)
	s.captureState(StateServerStopped, StateServerRunning, "")
	return nil
}

// StopListening stops accepting, stops every tracked connection and waits
// a bounded time for the accept goroutine. Safe to call more than once.
//
// Upstream callbacks run while StopListening is in progress. They may use
// the read accessors but must not call BeginListening or StopListening.
func (s *Server) StopListening() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.running.Store(false)
	s.mu.Lock()
	ln, done := s.listener, s.done
	s.listener, s.done = nil, nil
	s.mu.Unlock()
	if ln == nil {
		return
	}

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("failed to close listener", "error", err)
	}

	s.stopConnections()

	select {
	case <-done:
	case <-time.After(s.config.JoinTimeout):
		s.logger.Warn("accept goroutine did not exit in time; abandoning it",
			"timeout", s.config.JoinTimeout)
	}

	// Anything admitted while the accept goroutine wound down.
	s.stopConnections()
	s.sweep()

	s.logger.Info("server stopped", "addr", ln.Addr().String())
	s.captureState(StateServerRunning, StateServerStopped, "")
}

// stopConnections stops a snapshot of the registry outside the lock.
func (s *Server) stopConnections() {
	for _, conn := range s.Connections() {
		conn.StopListening()
	}
}

// sweep drops registry entries left by connections whose OnStopped is
// still waiting on a running callback. They are forwarded upstream once
// the callback returns.
func (s *Server) sweep() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		s.logger.Debug("dropping connection still in a callback", "conn_id", conn.ID())
		delete(s.conns, conn)
	}
}

// Addr returns the listen address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of tracked connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Connections returns a snapshot of the tracked connections.
func (s *Server) Connections() []*Connection {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*Connection, 0, len(s.conns))
	for conn := range s.conns {
		out = append(out, conn)
	}
	return out
}

// Broadcast sends v to every tracked connection and returns how many
// sends succeeded.
func (s *Server) Broadcast(v any) int {
	sent := 0
	for _, conn := range s.Connections() {
		if err := conn.Send(v); err != nil {
			s.logger.Debug("broadcast send failed", "conn_id", conn.ID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (s *Server) acceptLoop(ln net.Listener, done chan<- struct{}) {
	defer close(done)

	var delay time.Duration
	for s.running.Load() {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				s.logger.Warn("listener closed while running")
				s.running.Store(false)
				return
			}
			delay = nextAcceptDelay(delay)
			s.logger.Warn("accept failed; retrying", "error", err, "delay", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.admit(nc)
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}

// admit wraps an accepted socket, tracks it and starts it listening.
// Failures are logged and never end the accept loop.
func (s *Server) admit(nc net.Conn) {
	var conn *Connection
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while admitting connection",
				"remote", nc.RemoteAddr().String(), "panic", r)
			if conn != nil {
				conn.StopListening()
			} else {
				nc.Close()
			}
		}
	}()

	overloaded := s.ConnectionCount() >= s.backlog

	conn = newConnection(nc, s.config.Connection, log.RoleServer)
	conn.SetObserver(s.hooks)
	s.track(conn)

	if !s.running.Load() {
		conn.StopListening()
		return
	}

	if err := conn.BeginListening(); err != nil {
		s.logger.Warn("connection setup failed",
			"conn_id", conn.ID(), "remote", nc.RemoteAddr().String(), "error", err)
		return
	}

	if overloaded {
		s.logger.Warn("backlog exceeded; admitting with overload notice",
			"conn_id", conn.ID(), "active", s.ConnectionCount(), "backlog", s.backlog)
		if err := conn.Send(OverloadNotice); err != nil {
			s.logger.Warn("failed to send overload notice", "conn_id", conn.ID(), "error", err)
		}
	}
}

func (s *Server) track(conn *Connection) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrack(conn *Connection) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return false
	}
	delete(s.conns, conn)
	return true
}

func (s *Server) tracked(conn *Connection) bool {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	_, ok := s.conns[conn]
	return ok
}

func (s *Server) connectionStarted(conn *Connection) {
	if !s.tracked(conn) {
		s.logger.Warn("started event from untracked connection", "conn_id", conn.ID())
	}
	s.logger.Debug("connection started", "conn_id", conn.ID(), "remote", conn.RemoteAddr().String())
	s.upstream.OnStarted(conn)
}

func (s *Server) connectionMessage(conn *Connection, msg Message) {
	s.upstream.OnMessage(conn, msg)
}

func (s *Server) connectionStopped(conn *Connection) {
	if !s.untrack(conn) && s.running.Load() {
		s.logger.Warn("stopped event from untracked connection", "conn_id", conn.ID())
	}
	s.logger.Debug("connection stopped", "conn_id", conn.ID(), "cause", conn.Err())
	if conn.started.Load() {
		s.upstream.OnStopped(conn)
	}
}

func (s *Server) captureState(oldState, newState, reason string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerLifecycle,
		Category:  log.CategoryState,
		LocalRole: log.RoleServer,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityServer,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
