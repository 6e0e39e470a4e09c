package cert

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// LoadKeyPair loads a certificate chain and private key from PEM files.
func LoadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	chain, err := DecodeCertsPEM(data)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%s: %w", certFile, err)
	}
	key, err := ReadKeyFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%s: %w", keyFile, err)
	}
	return TLSCertificate(chain, key), nil
}

// LoadPKCS12 loads a single certificate and key from a PKCS#12 keystore.
func LoadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%s: %w", path, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("%s: %w: %T cannot sign", path, ErrInvalidKey, key)
	}
	return TLSCertificate([]*x509.Certificate{cert}, signer), nil
}

// LoadCertPool reads every certificate in the given PEM files into a pool.
func LoadCertPool(paths ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		certs, err := DecodeCertsPEM(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, c := range certs {
			pool.AddCert(c)
		}
	}
	return pool, nil
}

// TLSCertificate assembles a tls.Certificate from a leaf-first chain.
func TLSCertificate(chain []*x509.Certificate, key crypto.Signer) tls.Certificate {
	out := tls.Certificate{PrivateKey: key}
	for _, c := range chain {
		out.Certificate = append(out.Certificate, c.Raw)
	}
	if len(chain) > 0 {
		out.Leaf = chain[0]
	}
	return out
}
