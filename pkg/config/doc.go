// Package config loads sslserver process configuration from YAML.
//
// A File starts from Defaults, is overlaid with a YAML document and then
// checked by Validate. Accessors convert it into the transport,
// connection and discovery configurations the commands use:
//
//	server:
//	  host: 0.0.0.0
//	  port: 4444
//	  backlog: 10
//	tls:
//	  cert_file: server.crt
//	  key_file: server.key
//	connection:
//	  setup_timeout: 10s
//	  keepalive:
//	    ping_interval: 15s
//	logging:
//	  level: info
//	  protocol_log: capture.slog
//
// Durations use Go syntax ("500ms", "15s").
package config
