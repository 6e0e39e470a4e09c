// Package transport provides encrypted, record-oriented socket connections
// and a multi-connection server built on them.
//
// The transport layer handles:
//   - TLS connections obtained from a SecurityProvider
//   - A one-frame stream header exchanged before any record
//   - Length-prefixed record framing
//   - Optional ping/pong keep-alive
//   - Connection lifecycle notification through an Observer
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CBOR Records (data/ping/pong)│
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│        TLS (1.3 default)       │
//	├────────────────────────────────┤
//	│             TCP                │
//	└────────────────────────────────┘
//
// # Lifecycle
//
// A Connection is created from a connected socket (NewConnection) or by
// dialing (Dial). BeginListening performs the header exchange and starts
// one receive goroutine. Observers see OnStarted exactly once, then any
// number of OnMessage calls, then OnStopped exactly once. StopListening
// may be called any number of times from any goroutine.
//
// A Server accepts connections on a background goroutine, tracks them in
// a registry and forwards their events to an upstream Observer. The
// backlog is a soft limit: connections over it are still admitted and
// receive OverloadNotice as their first message.
package transport
