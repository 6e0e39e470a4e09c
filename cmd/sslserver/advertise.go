package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sslserver/sslserver-go/pkg/cert"
	"github.com/sslserver/sslserver-go/pkg/config"
	"github.com/sslserver/sslserver-go/pkg/discovery"
	"github.com/sslserver/sslserver-go/pkg/transport"
	"github.com/sslserver/sslserver-go/pkg/wire"
)

// advertise publishes the server under discovery.ServiceType.
func advertise(ctx context.Context, cfg config.File, sc transport.SecurityConfig, port int, logger *slog.Logger) (*discovery.MDNSAdvertiser, error) {
	leaf, err := leafCertificate(sc)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", discovery.ErrInvalidPort, port)
	}

	info := &discovery.ServerInfo{
		InstanceName: cfg.Discovery.Instance,
		Port:         uint16(port),
		Version:      wire.ProtocolVersion,
		ServerID:     discovery.ServerIDFromCertificate(leaf),
		ALPN:         transport.ALPNProtocol,
		Fingerprint:  cert.Fingerprint(leaf),
	}

	adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
		Interface: cfg.Discovery.Interface,
		TTL:       cfg.Discovery.TTL,
		Logger:    logger,
	})
	if err := adv.Advertise(ctx, info); err != nil {
		return nil, err
	}
	logger.Info("advertising via mDNS",
		"instance", adv.Instance(),
		"service", discovery.ServiceType,
		"server_id", info.ServerID)
	return adv, nil
}

func leafCertificate(sc transport.SecurityConfig) (*x509.Certificate, error) {
	if sc.Certificate.Leaf != nil {
		return sc.Certificate.Leaf, nil
	}
	if len(sc.Certificate.Certificate) == 0 {
		return nil, errors.New("no certificate to advertise")
	}
	return x509.ParseCertificate(sc.Certificate.Certificate[0])
}
