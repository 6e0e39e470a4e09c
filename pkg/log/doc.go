// Package log captures connection-level protocol events.
//
// Capture is separate from operational logging (slog). Operational logs
// say what the process is doing; capture records what crossed the wire,
// in a machine-readable trace that can be replayed with sslserver-log.
//
// # Basic Usage
//
//	// Console during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file
//	fl, _ := log.NewFileLogger("/var/log/sslserver/server.slog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport layer: raw frames (FrameEvent)
//   - Record layer: decoded records (RecordEvent) and keep-alive probes (ControlEvent)
//   - Lifecycle layer: connection and server state changes (StateChangeEvent)
//
// Errors at any layer are captured as ErrorEventData.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded Events with integer keys.
package log
