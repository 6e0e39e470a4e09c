package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sslserver/sslserver-go/pkg/log"
)

const (
	// LengthPrefixSize is the width of the big-endian length that
	// precedes every frame body.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize bounds a frame body unless configured (1 MiB).
	DefaultMaxMessageSize = 1 << 20

	// MaxLogFrameDataSize caps the body bytes copied into a capture event.
	MaxLogFrameDataSize = 4096
)

var (
	// ErrMessageTooLarge is returned for a body above the size bound.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty is returned for a zero length prefix or an empty write.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated is returned when the stream ends mid-frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// checkLength validates a body length against limit.
func checkLength(n, limit uint32) error {
	switch {
	case n == 0:
		return ErrMessageEmpty
	case n > limit:
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, limit)
	}
	return nil
}

// readFull fills buf, mapping a short read to ErrFrameTruncated.
// A clean EOF before the first byte is passed through when atBoundary.
func readFull(r io.Reader, buf []byte, atBoundary bool) error {
	_, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return nil
	case err == io.EOF && atBoundary:
		return io.EOF
	case err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		return ErrFrameTruncated
	}
	return err
}

// frameCapture emits frame events to a protocol logger.
type frameCapture struct {
	logger log.Logger
	connID string
	role   log.Role
	remote string
}

func (fc *frameCapture) emit(data []byte, direction log.Direction) {
	if fc == nil || fc.logger == nil {
		return
	}
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}
	fc.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fc.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    fc.role,
		RemoteAddr:   fc.remote,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      frameData,
			Truncated: truncated,
		},
	})
}

// FrameWriter prefixes each body with its length before writing it.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex
	capture        *frameCapture
}

// NewFrameWriter returns a writer bounded by DefaultMaxMessageSize.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize returns a writer rejecting bodies above maxSize.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures frame capture for this writer.
// Pass a nil logger to disable capture.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string, role log.Role, remote string) {
	fw.capture = &frameCapture{logger: logger, connID: connID, role: role, remote: remote}
}

// WriteFrame sends data as one frame. Prefix and body are handed to the
// underlying writer in a single call. Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) > int(fw.maxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}
	if err := checkLength(uint32(len(data)), fw.maxMessageSize); err != nil {
		return err
	}

	frame := binary.BigEndian.AppendUint32(make([]byte, 0, FrameSize(len(data))), uint32(len(data)))
	frame = append(frame, data...)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fw.capture.emit(data, log.DirectionOut)
	return nil
}

// FrameReader splits a byte stream into frames. It must only be used by
// one goroutine.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte
	capture        *frameCapture
}

// NewFrameReader returns a reader bounded by DefaultMaxMessageSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize returns a reader rejecting bodies above maxSize.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures frame capture for this reader.
// Pass a nil logger to disable capture.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string, role log.Role, remote string) {
	fr.capture = &frameCapture{logger: logger, connID: connID, role: role, remote: remote}
}

// ReadFrame returns the next frame body. io.EOF means the peer closed
// between frames.
//
// After ErrMessageEmpty the reader is still aligned on a frame boundary.
// Any other error leaves the stream unusable.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if err := readFull(fr.r, fr.lengthBuf[:], true); err != nil {
		if err == io.EOF || err == ErrFrameTruncated {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if err := checkLength(n, fr.maxMessageSize); err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if err := readFull(fr.r, body, false); err != nil {
		if err == ErrFrameTruncated {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	fr.capture.emit(body, log.DirectionIn)
	return body, nil
}

// Framer reads and writes frames over one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer wraps rw with the default size bound.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize wraps rw, rejecting bodies above maxSize.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures frame capture for both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string, role log.Role, remote string) {
	f.FrameReader.SetLogger(logger, connID, role, remote)
	f.FrameWriter.SetLogger(logger, connID, role, remote)
}

// FrameSize is the on-the-wire size of a frame carrying payloadSize bytes.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
