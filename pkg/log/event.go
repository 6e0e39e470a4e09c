package log

import (
	"time"

	"github.com/sslserver/sslserver-go/pkg/wire"
)

// Event is one captured protocol event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the connection (UUID). Empty for server events.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates data flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"5,keyasint"`

	// LocalRole tells whether the endpoint accepted or dialed the connection.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Exactly one of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Record      *RecordEvent      `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Control     *ControlEvent     `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates inbound data.
	DirectionIn Direction = 0
	// DirectionOut indicates outbound data.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerRecord is the decoded record layer.
	LayerRecord Layer = 1
	// LayerLifecycle covers connection and server state.
	LayerLifecycle Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerRecord:
		return "RECORD"
	case LayerLifecycle:
		return "LIFECYCLE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage is application data (frames and data records).
	CategoryMessage Category = 0
	// CategoryControl is a keep-alive probe.
	CategoryControl Category = 1
	// CategoryState is a state change.
	CategoryState Category = 2
	// CategoryError is an error.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates how the local endpoint obtained the connection.
type Role uint8

const (
	// RoleServer marks connections accepted by a Server.
	RoleServer Role = 1
	// RoleClient marks connections created by Dial.
	RoleClient Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw frame.
type FrameEvent struct {
	// Size is the frame size in bytes, length prefix included.
	Size int `cbor:"1,keyasint"`

	// Data is the frame body, truncated for large frames.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated is set when Data was cut.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// RecordEvent captures a decoded data record.
type RecordEvent struct {
	Type wire.RecordType `cbor:"1,keyasint"`

	// PayloadSize is the CBOR payload size in bytes.
	PayloadSize int `cbor:"2,keyasint"`

	// Diagnostic is the payload in CBOR diagnostic notation (may be cut).
	Diagnostic string `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection and server lifecycle transitions.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	NewState string `cbor:"3,keyasint"`

	// Reason for the change, usually the close cause.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntityConnection is a single connection.
	StateEntityConnection StateEntity = 0
	// StateEntityServer is the listening server.
	StateEntityServer StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures a keep-alive probe.
type ControlEvent struct {
	Type wire.RecordType `cbor:"1,keyasint"`
	Seq  uint32          `cbor:"2,keyasint"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer Layer `cbor:"1,keyasint"`

	Message string `cbor:"2,keyasint"`

	// Fatal is set when the error closed the connection.
	Fatal bool `cbor:"3,keyasint,omitempty"`

	// Context describes the operation that failed.
	Context string `cbor:"4,keyasint,omitempty"`
}
