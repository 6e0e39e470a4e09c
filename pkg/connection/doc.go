// Package connection keeps client connections to an sslserver alive.
//
// It handles:
//   - Exponential backoff with jitter between dial attempts
//   - Bounded dial retry (DialWithBackoff)
//   - Client state tracking and automatic reconnection (Manager)
//
// # Reconnection Strategy
//
// With the default BackoffConfig a failed dial is retried after:
//
//  1. Initial delay: 500 milliseconds
//  2. Exponential increase: 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Continue at 30s until successful or the attempt limit is reached
//  5. Reset to the initial delay once a connection is listening
//
// # Jitter
//
//	actual_delay = base_delay + random(0, base_delay * 0.2)
//
// A dial counts as successful when the TLS handshake completed and the
// stream headers were exchanged, i.e. when Connection.BeginListening
// returned nil.
package connection
