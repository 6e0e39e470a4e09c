package discovery

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
)

// ServerIDFromCertificate derives the server ID from a certificate.
//
// The ID is the first 64 bits (16 hex chars) of SHA-256(certificate DER).
func ServerIDFromCertificate(cert *x509.Certificate) string {
	return ServerIDFromDER(cert.Raw)
}

// ServerIDFromDER derives the server ID from raw certificate DER bytes.
func ServerIDFromDER(certDER []byte) string {
	hash := sha256.Sum256(certDER)
	return hex.EncodeToString(hash[:8])
}

// ValidateID checks if an ID string is a valid 64-bit fingerprint (16 hex chars).
func ValidateID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	return isHexString(id)
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
