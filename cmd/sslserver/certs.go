package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sslserver/sslserver-go/pkg/cert"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

// Files written by -gen-cert.
const (
	certFileName = "server.crt"
	keyFileName  = "server.key"
)

// generateKeyPair writes a self-signed certificate and its key into dir.
func generateKeyPair(dir string, hosts []string) error {
	c, key, err := cert.GenerateSelfSigned(cert.SelfSignedOptions{
		CommonName: hosts[0],
		Hosts:      hosts,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)
	if err := cert.WriteCertFile(certPath, c); err != nil {
		return err
	}
	if err := cert.WriteKeyFile(keyPath, key); err != nil {
		return err
	}

	fmt.Printf("Certificate: %s\n", certPath)
	fmt.Printf("Key:         %s\n", keyPath)
	fmt.Printf("Hosts:       %s\n", strings.Join(hosts, ", "))
	fmt.Printf("Valid until: %s\n", c.NotAfter.Format("2006-01-02"))
	fmt.Printf("SHA-256:     %s\n", cert.Fingerprint(c))
	return nil
}

// ephemeralCertificate creates an in-memory self-signed certificate.
func ephemeralCertificate(hosts []string) (tls.Certificate, error) {
	c, key, err := cert.GenerateSelfSigned(cert.SelfSignedOptions{
		CommonName: hosts[0],
		Hosts:      hosts,
	})
	if err != nil {
		return tls.Certificate{}, err
	}
	return cert.TLSCertificate([]*x509.Certificate{c}, key), nil
}

func printCipherSuites(w io.Writer) {
	fmt.Fprintln(w, "Cipher suites:")
	for _, s := range transport.CipherSuites() {
		marker := " "
		if s.Insecure {
			marker = "!"
		}
		fmt.Fprintf(w, "  %s %-50s %s\n", marker, s.Name, strings.Join(s.Versions, ","))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "! = insecure, never negotiated unless explicitly enabled")
}
