package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// SecurityProvider creates encrypted listening and connected sockets.
type SecurityProvider interface {
	// Listen binds an encrypted listener on port. Port 0 picks an ephemeral port.
	Listen(port, backlog int) (net.Listener, error)

	// Dial connects to address ("host:port") and completes the handshake.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TLSProvider is the crypto/tls SecurityProvider.
type TLSProvider struct {
	config SecurityConfig
}

// NewTLSProvider creates a provider from cfg.
func NewTLSProvider(cfg SecurityConfig) *TLSProvider {
	return &TLSProvider{config: cfg}
}

// Config returns the provider's security configuration.
func (p *TLSProvider) Config() SecurityConfig {
	return p.config
}

// Listen binds a TLS listener on BindHost:port.
//
// The net package exposes no accept-queue length, so backlog only drives
// admission in Server.
func (p *TLSProvider) Listen(port, backlog int) (net.Listener, error) {
	tlsConfig, err := NewServerTLSConfig(&p.config)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(p.config.BindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return tls.NewListener(ln, tlsConfig), nil
}

// Dial connects, completes the TLS handshake and verifies the result.
func (p *TLSProvider) Dial(ctx context.Context, address string) (net.Conn, error) {
	tlsConfig, err := NewClientTLSConfig(&p.config)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHandshakeTimeout)
		defer cancel()
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{KeepAlive: 15 * time.Second},
		Config:    tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	tlsConn := conn.(*tls.Conn)
	if err := VerifyConnection(tlsConn.ConnectionState(), p.config.MinVersion); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}
	return tlsConn, nil
}
