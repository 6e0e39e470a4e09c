package transport

import "errors"

// Connection errors.
var (
	// ErrConnectionClosed indicates the connection has been closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotReady indicates Send was called before the output stream was established.
	ErrNotReady = errors.New("connection not listening")

	// ErrAlreadyListening indicates BeginListening was called twice.
	ErrAlreadyListening = errors.New("connection already listening")

	// ErrSetup wraps failures while establishing streams or binding a listener.
	ErrSetup = errors.New("setup failed")

	// ErrTransport wraps I/O failures that close a connection.
	ErrTransport = errors.New("transport failure")

	// ErrDecode wraps inbound records that could not be decoded.
	// Decode failures drop the record and never close the connection.
	ErrDecode = errors.New("decode failure")

	// ErrKeepAliveTimeout is the close cause when the peer stops answering pings.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrObserverPanic is the close cause when an observer callback panics.
	ErrObserverPanic = errors.New("observer panicked")
)

// Server errors.
var (
	// ErrAlreadyRunning indicates BeginListening was called on a running server.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrNoProvider indicates the server has no security provider.
	ErrNoProvider = errors.New("no security provider")
)
