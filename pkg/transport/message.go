package transport

import (
	"encoding/hex"

	"github.com/sslserver/sslserver-go/pkg/wire"
)

// Message is one inbound application payload.
type Message struct {
	body []byte
}

// NewMessage encodes v into a Message.
func NewMessage(v any) (Message, error) {
	body, err := wire.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{body: body}, nil
}

// Raw returns the encoded payload.
func (m Message) Raw() []byte {
	return m.body
}

// Decode decodes the payload into v.
func (m Message) Decode(v any) error {
	return wire.Unmarshal(m.body, v)
}

// Value decodes the payload into generic Go values.
func (m Message) Value() (any, error) {
	var v any
	err := wire.Unmarshal(m.body, &v)
	return v, err
}

// String renders the payload in CBOR diagnostic notation.
func (m Message) String() string {
	diag, err := wire.Diagnose(m.body)
	if err != nil {
		return "h'" + hex.EncodeToString(m.body) + "'"
	}
	return diag
}
