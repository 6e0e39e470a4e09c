// Package wire defines the CBOR record format carried over a secured stream.
//
// Every frame on the wire holds exactly one CBOR data item. The first frame
// written by each endpoint is a StreamHeader; every later frame is a Record.
//
// # Stream Header
//
// An endpoint writes and flushes its header before it reads the peer's.
// Reading blocks until the peer header arrives, so both sides must send
// first and read second or the exchange stalls.
//
// # Records
//
// Records use integer keys for compactness:
//   - Data: application payload, itself an arbitrary CBOR item
//   - Ping / Pong: keep-alive probes correlated by sequence number
//
// Payloads are opaque to this package. Callers reconstruct them with
// Unmarshal into whatever Go type they expect.
package wire
