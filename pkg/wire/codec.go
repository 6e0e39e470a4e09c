package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Records and payloads are encoded canonically so equal values produce
// equal bytes. Decoding tolerates duplicate keys (last wins) and
// indefinite-length items sent by other encoders.
var (
	encMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})
	decMode = mustDecMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid CBOR encoding options: %v", err))
	}
	return em
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid CBOR decoding options: %v", err))
	}
	return dm
}

// Marshal encodes v as canonical CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes the CBOR item in data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Wellformed reports whether data is exactly one well-formed CBOR item.
func Wellformed(data []byte) error {
	return decMode.Wellformed(data)
}

// Diagnose returns the RFC 8949 diagnostic notation of a CBOR item,
// for logging payloads whose Go type is unknown.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
