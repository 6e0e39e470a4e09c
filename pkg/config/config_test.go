package config

import (
	"bytes"
	"crypto/tls"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslserver/sslserver-go/pkg/cert"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

func TestDefaultsAreValid(t *testing.T) {
	f := Defaults()
	require.NoError(t, f.Validate())
	assert.Equal(t, transport.DefaultPort, f.Server.Port)
	assert.Equal(t, transport.DefaultBacklog, f.Server.Backlog)
	assert.Nil(t, f.Connection.KeepAlive)
}

func TestParseEmptyDocument(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), f)
}

func TestParseOverlaysDefaults(t *testing.T) {
	f, err := Parse([]byte(`
server:
  host: 127.0.0.1
  port: 5555
  echo: true
connection:
  setup_timeout: 2s
  keepalive:
    ping_interval: 500ms
    pong_timeout: 250ms
    max_missed_pongs: 2
client:
  backoff:
    initial: 100ms
logging:
  level: debug
  format: json
  protocol_log: capture.slog
discovery:
  advertise: true
  instance: lab
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", f.Server.Host)
	assert.Equal(t, 5555, f.Server.Port)
	assert.True(t, f.Server.Echo)
	assert.Equal(t, transport.DefaultBacklog, f.Server.Backlog, "untouched fields keep defaults")
	assert.Equal(t, 2*time.Second, f.Connection.SetupTimeout)
	require.NotNil(t, f.Connection.KeepAlive)
	assert.Equal(t, 500*time.Millisecond, f.Connection.KeepAlive.PingInterval)
	assert.Equal(t, 2, f.Connection.KeepAlive.MaxMissedPongs)
	assert.Equal(t, 100*time.Millisecond, f.Client.Backoff.Initial)
	assert.Equal(t, "capture.slog", f.Logging.ProtocolLog)
	assert.True(t, f.Discovery.Advertise)

	cc := f.ConnectionConfig()
	assert.Equal(t, 2*time.Second, cc.SetupTimeout)
	require.NotNil(t, cc.KeepAlive)
	assert.NotSame(t, f.Connection.KeepAlive, cc.KeepAlive)

	sc := f.ServerConfig()
	assert.Equal(t, 5555, sc.Port)
	assert.Equal(t, cc, sc.Connection)

	rc := f.RetryConfig()
	assert.Equal(t, f.Client.MaxAttempts, rc.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, rc.Backoff.Initial)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown key", "server:\n  prot: 1\n", ""},
		{"bad duration", "connection:\n  setup_timeout: soon\n", ""},
		{"port range", "server:\n  port: 70000\n", "server.port"},
		{"backlog", "server:\n  backlog: 0\n", "server.backlog"},
		{"client port", "client:\n  port: 0\n", "client.port"},
		{"cert without key", "tls:\n  cert_file: a.crt\n", "tls"},
		{"cert and pkcs12", "tls:\n  cert_file: a\n  key_file: b\n  pkcs12_file: c\n", "tls"},
		{"min version", "tls:\n  min_version: \"1.1\"\n", "tls.min_version"},
		{"negative timeout", "connection:\n  write_timeout: -1s\n", "connection.write_timeout"},
		{"level", "logging:\n  level: loud\n", "logging.level"},
		{"format", "logging:\n  format: xml\n", "logging.format"},
		{"message size", "connection:\n  max_message_size: 0\n", "connection.max_message_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.field, le.Field)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sslserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6000\n"), 0600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, f.Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  backlog: -1\n"), 0600))
	_, err = Load(path)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, path, le.File)
	assert.Contains(t, err.Error(), "server.backlog")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSecurityConfigFromPEM(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	c, key, err := cert.GenerateSelfSigned(cert.SelfSignedOptions{CommonName: "cfg", Hosts: []string{"127.0.0.1"}})
	require.NoError(t, err)
	require.NoError(t, cert.WriteCertFile(certPath, c))
	require.NoError(t, cert.WriteKeyFile(keyPath, key))

	f := Defaults()
	f.Server.Host = "127.0.0.1"
	f.TLS.CertFile = certPath
	f.TLS.KeyFile = keyPath
	f.TLS.CAFiles = []string{certPath}
	f.TLS.RequireClientCert = true
	f.TLS.MinVersion = "TLS1.2"
	require.NoError(t, f.Validate())
	assert.True(t, f.TLS.HasCertificate())
	assert.Equal(t, "pem("+certPath+")", f.TLS.Describe())

	sc, err := f.SecurityConfig()
	require.NoError(t, err)
	assert.Len(t, sc.Certificate.Certificate, 1)
	assert.NotNil(t, sc.RootCAs)
	assert.NotNil(t, sc.ClientCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), sc.MinVersion)
	assert.Equal(t, "127.0.0.1", sc.BindHost)
}

func TestSecurityConfigErrors(t *testing.T) {
	f := Defaults()
	f.TLS.RequireClientCert = true
	_, err := f.SecurityConfig()
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "tls.require_client_cert", le.Field)

	f = Defaults()
	f.TLS.CertFile = "/nonexistent/server.crt"
	f.TLS.KeyFile = "/nonexistent/server.key"
	_, err = f.SecurityConfig()
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "tls", le.Field)

	f = Defaults()
	f.TLS.PKCS12File = filepath.Join(t.TempDir(), "missing.p12")
	f.TLS.PKCS12PasswordEnv = "SSLSERVER_TEST_UNSET"
	_, err = f.SecurityConfig()
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "pkcs12("+f.TLS.PKCS12File+")", f.TLS.Describe())
}

func TestTLSAccessorsOnDefaults(t *testing.T) {
	assert.False(t, Defaults().TLS.HasCertificate())
	assert.Equal(t, "none", Defaults().TLS.Describe())

	tlsCfg := Defaults().TLS
	tlsCfg.CertFile = "server.crt"
	assert.True(t, tlsCfg.HasCertificate())
	assert.Equal(t, "pem(server.crt)", tlsCfg.Describe())
}

func TestLoggingLevelAndFormat(t *testing.T) {
	l := Logging{Level: "warn", Format: "json"}
	level, err := l.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	var buf bytes.Buffer
	logger := l.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "json handler expected: %s", out)
	assert.Contains(t, out, `"k":"v"`)

	level, err = (&Logging{}).SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}
