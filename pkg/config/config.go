package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sslserver/sslserver-go/pkg/connection"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

// File is the on-disk configuration shared by the server and client
// commands.
type File struct {
	Server     Server     `yaml:"server"`
	TLS        TLS        `yaml:"tls"`
	Connection Connection `yaml:"connection"`
	Client     Client     `yaml:"client"`
	Logging    Logging    `yaml:"logging"`
	Discovery  Discovery  `yaml:"discovery"`
}

// Server configures the listening endpoint.
type Server struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Backlog     int           `yaml:"backlog"`
	JoinTimeout time.Duration `yaml:"join_timeout"`

	// Echo sends every received message back to its sender.
	Echo bool `yaml:"echo"`
}

// TLS names the key material. Either CertFile+KeyFile or PKCS12File
// provides the local certificate.
type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	PKCS12File string `yaml:"pkcs12_file"`
	// PKCS12PasswordEnv names the environment variable holding the
	// keystore password.
	PKCS12PasswordEnv string `yaml:"pkcs12_password_env"`

	// CAFiles are PEM bundles trusted for peer verification.
	CAFiles []string `yaml:"ca_files"`

	RequireClientCert  bool   `yaml:"require_client_cert"`
	ServerName         string `yaml:"server_name"`
	MinVersion         string `yaml:"min_version"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Connection configures every connection, accepted or dialed.
type Connection struct {
	MaxMessageSize uint32                     `yaml:"max_message_size"`
	SetupTimeout   time.Duration              `yaml:"setup_timeout"`
	WriteTimeout   time.Duration              `yaml:"write_timeout"`
	JoinTimeout    time.Duration              `yaml:"join_timeout"`
	KeepAlive      *transport.KeepAliveConfig `yaml:"keepalive"`
}

// Client configures the dialing side.
type Client struct {
	Host           string                   `yaml:"host"`
	Port           int                      `yaml:"port"`
	MaxAttempts    int                      `yaml:"max_attempts"`
	AttemptTimeout time.Duration            `yaml:"attempt_timeout"`
	AutoReconnect  bool                     `yaml:"auto_reconnect"`
	Backoff        connection.BackoffConfig `yaml:"backoff"`
}

// Logging configures operational and protocol logs.
type Logging struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// ProtocolLog is the path of a CBOR capture file. Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`
}

// Discovery configures mDNS advertising and browsing.
type Discovery struct {
	Advertise     bool          `yaml:"advertise"`
	Instance      string        `yaml:"instance"`
	Interface     string        `yaml:"interface"`
	TTL           time.Duration `yaml:"ttl"`
	BrowseTimeout time.Duration `yaml:"browse_timeout"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() File {
	return File{
		Server: Server{
			Port:        transport.DefaultPort,
			Backlog:     transport.DefaultBacklog,
			JoinTimeout: transport.DefaultJoinTimeout,
		},
		TLS: TLS{
			MinVersion: "1.3",
		},
		Connection: Connection{
			MaxMessageSize: transport.DefaultMaxMessageSize,
			SetupTimeout:   transport.DefaultSetupTimeout,
			JoinTimeout:    transport.DefaultJoinTimeout,
		},
		Client: Client{
			Host:           "localhost",
			Port:           transport.DefaultPort,
			MaxAttempts:    5,
			AttemptTimeout: connection.DefaultAttemptTimeout,
			Backoff:        connection.DefaultBackoffConfig(),
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Discovery: Discovery{
			BrowseTimeout: 5 * time.Second,
		},
	}
}

// Parse overlays a YAML document on Defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	f := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}

	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads and parses the file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	f, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return File{}, le
		}
		return File{}, &LoadError{File: path, Message: err.Error()}
	}
	return f, nil
}

// Validate checks field ranges and combinations.
func (f *File) Validate() error {
	if f.Server.Port < transport.PortAny || f.Server.Port > 65535 {
		return invalid("server.port", "out of range: %d", f.Server.Port)
	}
	if f.Server.Backlog < 1 {
		return invalid("server.backlog", "must be at least 1, got %d", f.Server.Backlog)
	}
	if f.Client.Port < 1 || f.Client.Port > 65535 {
		return invalid("client.port", "out of range: %d", f.Client.Port)
	}

	if (f.TLS.CertFile == "") != (f.TLS.KeyFile == "") {
		return invalid("tls", "cert_file and key_file must be set together")
	}
	if f.TLS.CertFile != "" && f.TLS.PKCS12File != "" {
		return invalid("tls", "cert_file and pkcs12_file are mutually exclusive")
	}
	if _, err := f.TLS.minVersion(); err != nil {
		return err
	}

	if f.Connection.MaxMessageSize == 0 {
		return invalid("connection.max_message_size", "must be positive")
	}
	for field, d := range map[string]time.Duration{
		"connection.setup_timeout": f.Connection.SetupTimeout,
		"connection.write_timeout": f.Connection.WriteTimeout,
		"connection.join_timeout":  f.Connection.JoinTimeout,
		"server.join_timeout":      f.Server.JoinTimeout,
		"client.attempt_timeout":   f.Client.AttemptTimeout,
		"discovery.ttl":            f.Discovery.TTL,
		"discovery.browse_timeout": f.Discovery.BrowseTimeout,
		"client.backoff.initial":   f.Client.Backoff.Initial,
		"client.backoff.max":       f.Client.Backoff.Max,
	} {
		if d < 0 {
			return invalid(field, "must not be negative")
		}
	}
	if ka := f.Connection.KeepAlive; ka != nil && ka.MaxMissedPongs < 0 {
		return invalid("connection.keepalive.max_missed_pongs", "must not be negative")
	}

	if _, err := f.Logging.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(f.Logging.Format) {
	case "", "text", "json":
	default:
		return invalid("logging.format", "unknown format %q", f.Logging.Format)
	}
	return nil
}

// ConnectionConfig returns the per-connection settings. Provider and
// loggers are left for the caller.
func (f *File) ConnectionConfig() transport.ConnectionConfig {
	cfg := transport.ConnectionConfig{
		MaxMessageSize: f.Connection.MaxMessageSize,
		SetupTimeout:   f.Connection.SetupTimeout,
		WriteTimeout:   f.Connection.WriteTimeout,
		JoinTimeout:    f.Connection.JoinTimeout,
	}
	if f.Connection.KeepAlive != nil {
		ka := *f.Connection.KeepAlive
		cfg.KeepAlive = &ka
	}
	return cfg
}

// ServerConfig returns the server settings. Loggers are left for the caller.
func (f *File) ServerConfig() transport.ServerConfig {
	return transport.ServerConfig{
		Port:        f.Server.Port,
		JoinTimeout: f.Server.JoinTimeout,
		Connection:  f.ConnectionConfig(),
	}
}

// RetryConfig returns the client dial retry settings.
func (f *File) RetryConfig() connection.RetryConfig {
	return connection.RetryConfig{
		MaxAttempts:    f.Client.MaxAttempts,
		AttemptTimeout: f.Client.AttemptTimeout,
		Backoff:        f.Client.Backoff,
	}
}
