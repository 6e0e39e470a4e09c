package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Browser finds sslserver endpoints on the local network.
type Browser interface {
	// Browse streams discovered servers until ctx is cancelled or Stop is
	// called. The channel is closed when browsing ends.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the first server matching instance, or any server when
	// instance is empty. Gives up after BrowserConfig.BrowseTimeout.
	Find(ctx context.Context, instance string) (*Service, error)

	// Stop ends all active browse operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find. Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}

// ServiceEntry is a raw DNS-SD answer, decoupled from the mDNS library.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToService converts the entry into a Service.
func (e *ServiceEntry) ToService() (*Service, error) {
	info, err := DecodeServerTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	return &Service{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
		Version:      info.Version,
		ServerID:     info.ServerID,
		ALPN:         info.ALPN,
		Fingerprint:  info.Fingerprint,
	}, nil
}

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MDNSBrowser{
		config:  config,
		logger:  logger,
		cancels: make(map[int]context.CancelFunc),
	}
}

// Browse searches for servers. Answers are aggregated by instance name:
// addresses from several interfaces are merged into one entry and each
// instance is emitted once.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	id := b.register(cancel)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := selectInterfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	raw := make(chan ServiceEntry)
	gone := make(chan ServiceEntry)
	go func() {
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					close(raw)
					return
				}
				select {
				case raw <- fromZeroconf(e):
				case <-ctx.Done():
					return
				}
			case e, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				select {
				case gone <- fromZeroconf(e):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	out := make(chan *Service)
	go func() {
		defer b.unregister(id)
		aggregate(ctx, raw, gone, out, b.logger)
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...); err != nil {
			b.logger.Warn("mDNS browse failed", "error", err)
			cancel()
		}
	}()

	return out, nil
}

// Find returns the first matching server.
func (b *MDNSBrowser) Find(ctx context.Context, instance string) (*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	return firstMatch(ctx, results, instance)
}

// Stop ends all active browse operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
}

func (b *MDNSBrowser) register(cancel context.CancelFunc) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.cancels[b.nextID] = cancel
	return b.nextID
}

func (b *MDNSBrowser) unregister(id int) {
	b.mu.Lock()
	cancel, ok := b.cancels[id]
	delete(b.cancels, id)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// aggregate merges raw answers per instance and emits a copy of each new
// instance on out. It closes out when entries closes or ctx ends.
func aggregate(ctx context.Context, entries, removed <-chan ServiceEntry, out chan<- *Service, logger *slog.Logger) {
	defer close(out)

	services := make(map[string]*Service)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			svc, err := entry.ToService()
			if err != nil {
				logger.Debug("ignoring service with invalid TXT records", "instance", entry.Instance, "error", err)
				continue
			}

			if existing, found := services[svc.InstanceName]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			services[svc.InstanceName] = svc
			emitted := *svc
			emitted.Addresses = append([]string(nil), svc.Addresses...)
			select {
			case out <- &emitted:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := services[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry.Addrs)
				if len(existing.Addresses) == 0 {
					delete(services, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func firstMatch(ctx context.Context, results <-chan *Service, instance string) (*Service, error) {
	for {
		select {
		case svc, ok := <-results:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, ErrNotFound
			}
			if instance == "" || svc.InstanceName == instance {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func fromZeroconf(entry *zeroconf.ServiceEntry) ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return ServiceEntry{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses filters the given addresses out of the list.
func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

var _ Browser = (*MDNSBrowser)(nil)
