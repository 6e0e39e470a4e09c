package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"github.com/sslserver/sslserver-go/pkg/cert"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

// minVersion maps the configured version string to a crypto/tls constant.
func (t TLS) minVersion() (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(t.MinVersion), "tls") {
	case "", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, invalid("tls.min_version", "unsupported version %q (want 1.2 or 1.3)", t.MinVersion)
	}
}

// HasCertificate reports whether a local certificate is configured.
func (t TLS) HasCertificate() bool {
	return t.CertFile != "" || t.PKCS12File != ""
}

// SecurityConfig loads the configured key material. Server.Host becomes
// the listener bind host.
func (f *File) SecurityConfig() (transport.SecurityConfig, error) {
	minVersion, err := f.TLS.minVersion()
	if err != nil {
		return transport.SecurityConfig{}, err
	}
	sc := transport.SecurityConfig{
		RequireClientCert:  f.TLS.RequireClientCert,
		ServerName:         f.TLS.ServerName,
		MinVersion:         minVersion,
		BindHost:           f.Server.Host,
		InsecureSkipVerify: f.TLS.InsecureSkipVerify,
	}

	switch {
	case f.TLS.CertFile != "":
		sc.Certificate, err = cert.LoadKeyPair(f.TLS.CertFile, f.TLS.KeyFile)
	case f.TLS.PKCS12File != "":
		password := ""
		if f.TLS.PKCS12PasswordEnv != "" {
			password = os.Getenv(f.TLS.PKCS12PasswordEnv)
		}
		sc.Certificate, err = cert.LoadPKCS12(f.TLS.PKCS12File, password)
	}
	if err != nil {
		return transport.SecurityConfig{}, &LoadError{Field: "tls", Message: "failed to load certificate", Cause: err}
	}

	if len(f.TLS.CAFiles) > 0 {
		pool, err := cert.LoadCertPool(f.TLS.CAFiles...)
		if err != nil {
			return transport.SecurityConfig{}, &LoadError{Field: "tls.ca_files", Message: "failed to load CA bundle", Cause: err}
		}
		sc.RootCAs = pool
		sc.ClientCAs = pool
	}

	if sc.RequireClientCert && sc.ClientCAs == nil {
		return transport.SecurityConfig{}, invalid("tls.require_client_cert", "needs ca_files")
	}
	return sc, nil
}

// Describe returns a one-line summary of the key material for logs.
func (t TLS) Describe() string {
	switch {
	case t.CertFile != "":
		return fmt.Sprintf("pem(%s)", t.CertFile)
	case t.PKCS12File != "":
		return fmt.Sprintf("pkcs12(%s)", t.PKCS12File)
	default:
		return "none"
	}
}
