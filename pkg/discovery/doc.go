// Package discovery advertises and browses sslserver endpoints over
// mDNS/DNS-SD.
//
// Servers register one instance of the _sslserver._tcp service per
// listener. The instance name defaults to "sslserver-<server-id>", where the
// server ID is the first 64 bits of SHA-256 over the server certificate
// (16 hex chars). TXT records carry:
//
//   - v: wire protocol version
//   - id: server ID
//   - alpn: negotiated application protocol (optional)
//   - fp: full SHA-256 certificate fingerprint (optional)
//
// Browsers aggregate answers by instance name: addresses seen on several
// interfaces are merged into one Service, and an instance is dropped when
// its last address disappears.
package discovery
