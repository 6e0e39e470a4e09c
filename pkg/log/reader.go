package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects capture events. A nil or empty criterion matches every
// event; all set criteria must hold.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category
	Role         *Role

	// TimeStart and TimeEnd bound a half-open window [TimeStart, TimeEnd).
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Matches reports whether event satisfies every set criterion.
func (f *Filter) Matches(event Event) bool {
	return (f.ConnectionID == "" || f.ConnectionID == event.ConnectionID) &&
		is(f.Direction, event.Direction) &&
		is(f.Layer, event.Layer) &&
		is(f.Category, event.Category) &&
		is(f.Role, event.LocalRole) &&
		f.inWindow(event.Timestamp)
}

func (f *Filter) inWindow(ts time.Time) bool {
	if f.TimeStart != nil && ts.Before(*f.TimeStart) {
		return false
	}
	return f.TimeEnd == nil || ts.Before(*f.TimeEnd)
}

// is reports whether an optional criterion is unset or equal to got.
func is[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

// Reader streams events from a capture file in write order.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
}

// NewReader opens the capture file at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the capture file at path. Next skips events
// that do not match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event. It returns io.EOF after the last
// complete event and io.ErrUnexpectedEOF for a file cut mid-event.
func (r *Reader) Next() (Event, error) {
	var event Event
	for {
		event = Event{}
		err := r.dec.Decode(&event)
		switch {
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, err
		case r.filter.Matches(event):
			return event, nil
		}
	}
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}
