package transport

import "net"

// Endpoint is the part of a Connection that applications usually hold.
// Implemented by Connection.
type Endpoint interface {
	ID() string
	RemoteAddr() net.Addr
	Send(v any) error
	StopListening()
	IsClosed() bool
}

// Listener is a running or stoppable Server.
// Implemented by Server.
type Listener interface {
	BeginListening() error
	StopListening()
	Addr() net.Addr
	ConnectionCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ Endpoint         = (*Connection)(nil)
	_ Listener         = (*Server)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
	_ SecurityProvider = (*TLSProvider)(nil)
	_ Observer         = ObserverFuncs{}
	_ Observer         = (*DebugObserver)(nil)
)
