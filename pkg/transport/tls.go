package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sort"
	"time"
)

// TLS constants.
const (
	// ALPNProtocol is the application protocol negotiated on every connection.
	ALPNProtocol = "sslserver/1"

	// DefaultHandshakeTimeout bounds Dial when the context has no deadline.
	DefaultHandshakeTimeout = 30 * time.Second
)

// SecurityConfig holds the TLS material for one endpoint.
type SecurityConfig struct {
	// Certificate is this endpoint's certificate. Required to listen,
	// optional to dial.
	Certificate tls.Certificate

	// RootCAs verifies server certificates. Nil uses the system pool.
	RootCAs *x509.CertPool

	// ClientCAs verifies client certificates when RequireClientCert is set.
	ClientCAs *x509.CertPool

	// RequireClientCert turns on mutual TLS for listeners.
	RequireClientCert bool

	// ServerName overrides the name checked against the server certificate.
	// Empty means the dialed host.
	ServerName string

	// MinVersion is the lowest accepted TLS version. Zero means TLS 1.3.
	MinVersion uint16

	// BindHost is the host listeners bind to. Empty means all interfaces.
	BindHost string

	// InsecureSkipVerify disables server certificate verification.
	// Only for testing.
	InsecureSkipVerify bool
}

func (cfg *SecurityConfig) minVersion() uint16 {
	if cfg.MinVersion == 0 {
		return tls.VersionTLS13
	}
	return cfg.MinVersion
}

// NewServerTLSConfig creates a TLS configuration for listening.
func NewServerTLSConfig(cfg *SecurityConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SecurityConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	tlsConfig := &tls.Config{
		MinVersion:   cfg.minVersion(),
		Certificates: []tls.Certificate{cfg.Certificate},
		NextProtos:   []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
	}

	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = cfg.ClientCAs
	}

	return tlsConfig, nil
}

// NewClientTLSConfig creates a TLS configuration for dialing.
func NewClientTLSConfig(cfg *SecurityConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SecurityConfig is required")
	}

	tlsConfig := &tls.Config{
		MinVersion: cfg.minVersion(),
		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,
		NextProtos: []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
		InsecureSkipVerify:     cfg.InsecureSkipVerify,
	}

	if len(cfg.Certificate.Certificate) > 0 {
		tlsConfig.Certificates = []tls.Certificate{cfg.Certificate}
	}

	return tlsConfig, nil
}

// VerifyALPN checks that the negotiated ALPN protocol is ours.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}

// VerifyConnection checks a completed handshake against the configured minimum version.
func VerifyConnection(state tls.ConnectionState, minVersion uint16) error {
	if minVersion == 0 {
		minVersion = tls.VersionTLS13
	}
	if state.Version < minVersion {
		return fmt.Errorf("TLS version %s is below %s", tls.VersionName(state.Version), tls.VersionName(minVersion))
	}
	return VerifyALPN(state)
}

// CipherSuite describes one cipher suite known to the TLS stack.
type CipherSuite struct {
	Name     string
	Versions []string
	Insecure bool
}

// CipherSuites lists the cipher suites supported by the TLS stack,
// secure suites first, each group sorted by name.
func CipherSuites() []CipherSuite {
	var out []CipherSuite
	add := func(suites []*tls.CipherSuite, insecure bool) {
		group := make([]CipherSuite, 0, len(suites))
		for _, s := range suites {
			versions := make([]string, 0, len(s.SupportedVersions))
			for _, v := range s.SupportedVersions {
				versions = append(versions, tls.VersionName(v))
			}
			group = append(group, CipherSuite{Name: s.Name, Versions: versions, Insecure: insecure})
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		out = append(out, group...)
	}
	add(tls.CipherSuites(), false)
	add(tls.InsecureCipherSuites(), true)
	return out
}
