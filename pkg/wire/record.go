package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Stream header constants.
const (
	// HeaderMagic identifies an sslserver stream.
	HeaderMagic = "SSLS"

	// ProtocolVersion is the record format version written in the header.
	ProtocolVersion uint8 = 1
)

// Record errors.
var (
	ErrMalformedRecord   = errors.New("malformed record")
	ErrUnknownRecordType = errors.New("unknown record type")
	ErrEmptyPayload      = errors.New("data record has no payload")
	ErrBadMagic          = errors.New("stream header magic mismatch")
	ErrVersionMismatch   = errors.New("unsupported protocol version")
)

// RecordType distinguishes application data from keep-alive probes.
type RecordType uint8

const (
	// RecordData carries one application payload.
	RecordData RecordType = 1

	// RecordPing asks the peer to echo the sequence number.
	RecordPing RecordType = 2

	// RecordPong answers a ping.
	RecordPong RecordType = 3
)

// String returns the record type name.
func (t RecordType) String() string {
	switch t {
	case RecordData:
		return "data"
	case RecordPing:
		return "ping"
	case RecordPong:
		return "pong"
	default:
		return "unknown"
	}
}

// IsControl reports whether the record is handled by the transport itself.
func (t RecordType) IsControl() bool {
	return t == RecordPing || t == RecordPong
}

// Record is the envelope of every frame after the stream header.
type Record struct {
	Type RecordType      `cbor:"1,keyasint"`
	Seq  uint32          `cbor:"2,keyasint,omitempty"`
	Body cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Validate checks the record type and payload presence.
func (r *Record) Validate() error {
	switch r.Type {
	case RecordData:
		if len(r.Body) == 0 {
			return ErrEmptyPayload
		}
	case RecordPing, RecordPong:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownRecordType, r.Type)
	}
	return nil
}

// StreamHeader is the first frame each endpoint writes.
type StreamHeader struct {
	Magic   string `cbor:"1,keyasint"`
	Version uint8  `cbor:"2,keyasint"`
}

// EncodeHeader encodes the local stream header.
func EncodeHeader() ([]byte, error) {
	return Marshal(&StreamHeader{Magic: HeaderMagic, Version: ProtocolVersion})
}

// DecodeHeader decodes and checks a peer stream header.
func DecodeHeader(data []byte) (*StreamHeader, error) {
	var h StreamHeader
	if err := Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode stream header: %w", err)
	}
	if h.Magic != HeaderMagic {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, h.Magic)
	}
	if h.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, h.Version)
	}
	return &h, nil
}

// EncodeData wraps v in a data record.
func EncodeData(v any) ([]byte, error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return Marshal(&Record{Type: RecordData, Body: body})
}

// EncodePing encodes a ping record.
func EncodePing(seq uint32) ([]byte, error) {
	return Marshal(&Record{Type: RecordPing, Seq: seq})
}

// EncodePong encodes a pong record.
func EncodePong(seq uint32) ([]byte, error) {
	return Marshal(&Record{Type: RecordPong, Seq: seq})
}

// DecodeRecord decodes and validates one record.
// All failures wrap ErrMalformedRecord.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	return &r, nil
}
