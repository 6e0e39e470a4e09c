package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of sslserver endpoints.
	ServiceType = "_sslserver._tcp"

	// Domain is the mDNS domain.
	Domain = "local"
)

// TXT record keys.
const (
	TXTKeyVersion     = "v"
	TXTKeyServerID    = "id"
	TXTKeyALPN        = "alpn"
	TXTKeyFingerprint = "fp"
)

const (
	// BrowseTimeout is the default timeout for Find.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// IDLength is the length of a server ID (16 hex chars = 64 bits).
	IDLength = 16

	// InstancePrefix prefixes generated instance names.
	InstancePrefix = "sslserver-"
)

var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrInvalidPort         = errors.New("invalid port")
)

// ServerInfo describes an advertised server.
type ServerInfo struct {
	// InstanceName is the DNS-SD instance. Empty means InstancePrefix+ServerID.
	InstanceName string

	// Port is the TCP port the server listens on.
	Port uint16

	// Version is the wire protocol version.
	Version uint8

	// ServerID identifies the server certificate (see ServerIDFromCertificate).
	ServerID string

	// ALPN is the application protocol offered during the handshake.
	ALPN string

	// Fingerprint is the colon-separated SHA-256 fingerprint of the certificate.
	Fingerprint string
}

// Instance returns the instance name to register.
func (i *ServerInfo) Instance() string {
	name := i.InstanceName
	if name == "" {
		name = InstancePrefix + i.ServerID
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// Validate checks the fields required for advertising.
func (i *ServerInfo) Validate() error {
	if i.Port == 0 {
		return ErrInvalidPort
	}
	if !ValidateID(i.ServerID) {
		return ErrInvalidTXTRecord
	}
	if i.InstanceName != "" {
		return ValidateInstanceName(i.InstanceName)
	}
	return nil
}

// Service is a discovered server.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Version     uint8
	ServerID    string
	ALPN        string
	Fingerprint string
}

// Address returns host:port for the first known address, falling back to
// the advertised host name.
func (s *Service) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
