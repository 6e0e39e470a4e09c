package transport

import (
	"crypto/tls"
	"log/slog"
	"sync"
)

// Observer receives connection lifecycle and message events.
//
// For one connection, OnStarted is called at most once and before any
// OnMessage. OnStopped is called exactly once, last. A connection whose
// setup fails is stopped without being started. OnMessage calls are
// serialized on the connection's receive goroutine.
type Observer interface {
	OnStarted(conn *Connection)
	OnMessage(conn *Connection, msg Message)
	OnStopped(conn *Connection)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Started func(conn *Connection)
	Message func(conn *Connection, msg Message)
	Stopped func(conn *Connection)
}

// OnStarted implements Observer.
func (f ObserverFuncs) OnStarted(conn *Connection) {
	if f.Started != nil {
		f.Started(conn)
	}
}

// OnMessage implements Observer.
func (f ObserverFuncs) OnMessage(conn *Connection, msg Message) {
	if f.Message != nil {
		f.Message(conn, msg)
	}
}

// OnStopped implements Observer.
func (f ObserverFuncs) OnStopped(conn *Connection) {
	if f.Stopped != nil {
		f.Stopped(conn)
	}
}

// DebugObserver logs every event and keeps the set of live connections.
type DebugObserver struct {
	logger *slog.Logger

	mu     sync.Mutex
	active map[*Connection]struct{}
	total  int
}

// NewDebugObserver creates a DebugObserver. A nil logger uses slog.Default.
func NewDebugObserver(logger *slog.Logger) *DebugObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugObserver{
		logger: logger,
		active: make(map[*Connection]struct{}),
	}
}

// OnStarted implements Observer.
func (d *DebugObserver) OnStarted(conn *Connection) {
	d.mu.Lock()
	d.active[conn] = struct{}{}
	d.total++
	d.mu.Unlock()

	d.logger.Info("connection began listening",
		"conn_id", conn.ID(),
		"remote", conn.RemoteAddr().String(),
		"tls", tlsSummary(conn))
}

// OnMessage implements Observer.
func (d *DebugObserver) OnMessage(conn *Connection, msg Message) {
	d.logger.Info("message received",
		"conn_id", conn.ID(),
		"size", len(msg.Raw()),
		"payload", msg.String())
}

// OnStopped implements Observer.
func (d *DebugObserver) OnStopped(conn *Connection) {
	d.mu.Lock()
	_, known := d.active[conn]
	d.mu.Unlock()

	attrs := []any{"conn_id", conn.ID(), "remote", conn.RemoteAddr().String()}
	if err := conn.Err(); err != nil {
		attrs = append(attrs, "cause", err)
	}
	if !known {
		attrs = append(attrs, "started", false)
	}
	d.logger.Info("connection stopped listening", attrs...)

	d.mu.Lock()
	delete(d.active, conn)
	d.mu.Unlock()
}

// Active returns the number of started, not yet stopped connections.
func (d *DebugObserver) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Total returns the number of connections ever started.
func (d *DebugObserver) Total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

func tlsSummary(conn *Connection) string {
	state, ok := conn.TLSState()
	if !ok {
		return "none"
	}
	return tls.VersionName(state.Version) + " " + tls.CipherSuiteName(state.CipherSuite)
}
