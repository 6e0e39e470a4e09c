package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sslserver/sslserver-go/pkg/transport"
)

// Manager errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

type transition struct{ from, to State }

// State represents the client state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a Connect call is in progress.
	StateConnecting

	// StateConnected indicates a listening connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Retry bounds the initial Connect. Reconnection ignores MaxAttempts
	// and retries until Close or Disconnect.
	Retry RetryConfig

	// AutoReconnect redials when an established connection is lost.
	AutoReconnect bool

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// Manager owns one client connection at a time and redials it with backoff
// when it is lost. Events of every connection it owns are forwarded to the
// upstream observer.
type Manager struct {
	mu sync.RWMutex

	state State
	conn  *transport.Connection

	dial     DialFunc
	config   ManagerConfig
	backoff  *Backoff
	upstream transport.Observer
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCh chan struct{}

	// pending holds transitions to report once mu is released.
	pending []transition

	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager and starts its reconnect goroutine.
// A nil observer discards events.
func NewManager(dial DialFunc, observer transport.Observer, config ManagerConfig) *Manager {
	if observer == nil {
		observer = transport.ObserverFuncs{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Retry.Logger == nil {
		config.Retry.Logger = logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		state:       StateDisconnected,
		dial:        dial,
		config:      config,
		backoff:     NewBackoff(config.Retry.Backoff),
		upstream:    observer,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
	}

	m.wg.Add(1)
	go m.reconnectLoop()
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if a connection is listening.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Conn returns the current connection, or nil.
func (m *Manager) Conn() *transport.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.AutoReconnect = enabled
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnReconnecting sets a callback invoked before each reconnection delay.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// Connect dials with backoff and begins listening on the new connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	case StateDisconnected:
	default:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.setStateLocked(StateConnecting)
	m.unlockAndNotify()

	conn, err := dialWithBackoff(ctx, m.dial, m.backoff, m.config.Retry)
	if err == nil {
		err = m.establish(conn)
	}
	if err != nil {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.setStateLocked(StateDisconnected)
		}
		m.unlockAndNotify()
		return err
	}
	return nil
}

// Send sends v on the current connection.
func (m *Manager) Send(v any) error {
	conn := m.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(v)
}

// Disconnect stops the current connection without reconnecting.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateDisconnected)
	m.unlockAndNotify()

	if conn != nil {
		conn.StopListening()
	}
}

// Close stops the current connection and the reconnect goroutine.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateClosed)
	m.unlockAndNotify()

	m.cancel()
	if conn != nil {
		conn.StopListening()
	}
	m.wg.Wait()
}

// BackoffAttempts returns the number of retries since the last success.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

// establish wires conn to the manager and begins listening. The state moves
// to StateConnected from the OnStarted hook.
func (m *Manager) establish(conn *transport.Connection) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		conn.StopListening()
		return ErrManagerClosed
	}
	m.conn = conn
	m.mu.Unlock()

	conn.SetObserver(m.hooks())
	if err := conn.BeginListening(); err != nil {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		return err
	}
	m.backoff.Reset()
	return nil
}

// hooks returns the observer bound to one connection.
func (m *Manager) hooks() transport.Observer {
	var started atomic.Bool
	return transport.ObserverFuncs{
		Started: func(conn *transport.Connection) {
			started.Store(true)
			m.mu.Lock()
			if m.conn == conn && m.state != StateClosed {
				m.setStateLocked(StateConnected)
			}
			m.unlockAndNotify()
			m.logger.Info("connected", "conn_id", conn.ID(), "remote", conn.RemoteAddr().String())
			m.upstream.OnStarted(conn)
		},
		Message: m.upstream.OnMessage,
		Stopped: func(conn *transport.Connection) {
			reconnect := m.connectionLost(conn)
			if started.Load() {
				m.upstream.OnStopped(conn)
			}
			if reconnect {
				m.triggerReconnect()
			}
		},
	}
}

// connectionLost updates state after conn stopped and reports whether a
// reconnect is due.
func (m *Manager) connectionLost(conn *transport.Connection) bool {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return false
	}
	m.conn = nil
	if m.state != StateConnected {
		m.mu.Unlock()
		return false
	}

	m.logger.Warn("connection lost", "conn_id", conn.ID(), "cause", conn.Err())
	reconnect := m.config.AutoReconnect
	if reconnect {
		m.setStateLocked(StateReconnecting)
	} else {
		m.setStateLocked(StateDisconnected)
	}
	m.unlockAndNotify()
	return reconnect
}

// setStateLocked changes state and queues the transition. Caller holds mu
// and releases it with unlockAndNotify.
func (m *Manager) setStateLocked(state State) {
	old := m.state
	if old == state {
		return
	}
	m.state = state
	m.pending = append(m.pending, transition{from: old, to: state})
}

// unlockAndNotify releases mu and reports queued transitions.
func (m *Manager) unlockAndNotify() {
	pending := m.pending
	m.pending = nil
	fn := m.onStateChange
	m.mu.Unlock()

	if fn == nil {
		return
	}
	for _, t := range pending {
		fn(t.from, t.to)
	}
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect redials until a connection is established or the
// manager leaves StateReconnecting.
func (m *Manager) attemptReconnect() {
	for {
		m.mu.RLock()
		state := m.state
		onReconnecting := m.onReconnecting
		m.mu.RUnlock()
		if state != StateReconnecting {
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()
		if onReconnecting != nil {
			onReconnecting(attempt, delay)
		}
		m.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if m.State() != StateReconnecting {
			return
		}

		timeout := m.config.Retry.AttemptTimeout
		if timeout <= 0 {
			timeout = DefaultAttemptTimeout
		}
		ctx, cancel := context.WithTimeout(m.ctx, timeout)
		conn, err := m.dial(ctx)
		cancel()
		if err != nil {
			m.logger.Debug("reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}
		if err := m.establish(conn); err != nil {
			m.logger.Debug("reconnect setup failed", "attempt", attempt, "error", err)
			continue
		}
		return
	}
}
