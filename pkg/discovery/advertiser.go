package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser publishes a server on the local network.
type Advertiser interface {
	// Advertise starts advertising the server, replacing any previous
	// registration.
	Advertise(ctx context.Context, info *ServerInfo) error

	// Update replaces the TXT records of the active registration.
	Update(info *ServerInfo) error

	// Stop withdraws the registration. Safe to call when not advertising.
	Stop()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty string means all interfaces.
	Interface string

	// TTL of the published records. Zero uses the zeroconf default.
	TTL time.Duration

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// MDNSAdvertiser implements Advertiser using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig
	logger *slog.Logger

	mu       sync.Mutex
	server   *zeroconf.Server
	instance string
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MDNSAdvertiser{config: config, logger: logger}
}

// Advertise registers the server under ServiceType.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *ServerInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	instance := info.Instance()
	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		int(info.Port),
		TXTRecordsToStrings(EncodeServerTXT(info)),
		selectInterfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	a.server = server
	a.instance = instance
	a.logger.Info("advertising server", "instance", instance, "service", ServiceType, "port", info.Port)
	return nil
}

// Update replaces the TXT records of the active registration.
func (a *MDNSAdvertiser) Update(info *ServerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotFound
	}
	a.server.SetText(TXTRecordsToStrings(EncodeServerTXT(info)))
	return nil
}

// Instance returns the registered instance name, or "" when not advertising.
func (a *MDNSAdvertiser) Instance() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instance
}

// Stop withdraws the registration.
func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *MDNSAdvertiser) shutdownLocked() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("stopped advertising", "instance", a.instance)
	a.server = nil
	a.instance = ""
}

// selectInterfaces returns the interfaces to use, or nil for all of them.
func selectInterfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

var _ Advertiser = (*MDNSAdvertiser)(nil)
