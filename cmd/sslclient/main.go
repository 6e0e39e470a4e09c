// Command sslclient connects to an sslserver and exchanges messages.
//
// In interactive mode (the default) commands are read with readline:
// send YAML values, inspect the connection, toggle reconnection. With
// -send the client sends one value, prints the replies received within
// -wait and exits.
//
// Usage:
//
//	sslclient [flags]
//
// Examples:
//
//	# Connect to a local development server
//	sslclient -host localhost -ca ./certs/server.crt
//
//	# Find a server via mDNS and connect to it
//	sslclient -discover "" -insecure
//
//	# List advertised servers
//	sslclient -browse
//
//	# Send one message and print the echo
//	sslclient -ca ./certs/server.crt -send '{op: ping}' -wait 2s
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sslserver/sslserver-go/cmd/sslclient/interactive"
	"github.com/sslserver/sslserver-go/internal/cli"
	"github.com/sslserver/sslserver-go/pkg/config"
	"github.com/sslserver/sslserver-go/pkg/connection"
	"github.com/sslserver/sslserver-go/pkg/discovery"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

// Flags holds the command line.
type Flags struct {
	ConfigFile    string
	Host          string
	Port          int
	CAFile        string
	CertFile      string
	KeyFile       string
	ServerName    string
	Insecure      bool
	AutoReconnect bool
	LogLevel      string
	ProtocolLog   string

	Discover string
	Browse   bool

	Send string
	Wait time.Duration
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Host, "host", "localhost", "Server host")
	flag.IntVar(&flags.Port, "port", transport.DefaultPort, "Server port")
	flag.StringVar(&flags.CAFile, "ca", "", "PEM bundle trusted for the server certificate")
	flag.StringVar(&flags.CertFile, "cert", "", "PEM client certificate")
	flag.StringVar(&flags.KeyFile, "key", "", "PEM client private key")
	flag.StringVar(&flags.ServerName, "server-name", "", "Name checked against the server certificate")
	flag.BoolVar(&flags.Insecure, "insecure", false, "Skip server certificate verification (testing only)")
	flag.BoolVar(&flags.AutoReconnect, "auto-reconnect", false, "Reconnect with backoff when the connection drops")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol capture events to this file")

	flag.StringVar(&flags.Discover, "discover", "-", `Find the server via mDNS by instance name ("" for any)`)
	flag.BoolVar(&flags.Browse, "browse", false, "List servers advertised via mDNS and exit")

	flag.StringVar(&flags.Send, "send", "", "Send one YAML value and exit")
	flag.DurationVar(&flags.Wait, "wait", time.Second, "How long -send waits for replies")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.Browse {
		err = browse(ctx, cfg, logger, os.Stdout)
	} else {
		err = run(ctx, cancel, cfg, logger)
	}
	if err != nil {
		logger.Error("client failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags given on the
// command line on top of it.
func loadConfig() (config.File, error) {
	cfg, err := cli.LoadConfig(flags.ConfigFile)
	if err != nil {
		return cfg, err
	}

	set := cli.Visited(flag.CommandLine)
	if set["host"] {
		cfg.Client.Host = flags.Host
	}
	if set["port"] {
		cfg.Client.Port = flags.Port
	}
	if set["ca"] {
		cfg.TLS.CAFiles = []string{flags.CAFile}
	}
	if set["cert"] || set["key"] {
		cfg.TLS.CertFile, cfg.TLS.KeyFile = flags.CertFile, flags.KeyFile
		cfg.TLS.PKCS12File = ""
	}
	if set["server-name"] {
		cfg.TLS.ServerName = flags.ServerName
	}
	if set["insecure"] {
		cfg.TLS.InsecureSkipVerify = flags.Insecure
	}
	if set["auto-reconnect"] {
		cfg.Client.AutoReconnect = flags.AutoReconnect
	}
	if set["log-level"] {
		cfg.Logging.Level = flags.LogLevel
	}
	if set["protocol-log"] {
		cfg.Logging.ProtocolLog = flags.ProtocolLog
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.File, logger *slog.Logger) error {
	sc, err := cfg.SecurityConfig()
	if err != nil {
		return err
	}

	host, port := cfg.Client.Host, cfg.Client.Port
	if flags.Discover != "-" {
		svc, err := discover(ctx, cfg, flags.Discover, logger)
		if err != nil {
			return err
		}
		host, port = svc.Host, int(svc.Port)
		if len(svc.Addresses) > 0 {
			host = svc.Addresses[0]
		}
		if sc.ServerName == "" {
			sc.ServerName = svc.Host
		}
		logger.Info("discovered server", "instance", svc.InstanceName, "addr", svc.Address(), "fingerprint", svc.Fingerprint)
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))

	capture, err := cli.NewCapture(cfg.Logging, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := capture.Close(); err != nil {
			logger.Warn("protocol log", "error", err)
		}
	}()

	connCfg := cfg.ConnectionConfig()
	connCfg.Provider = transport.NewTLSProvider(sc)
	connCfg.Logger = logger
	connCfg.ProtocolLogger = capture.Logger

	retry := cfg.RetryConfig()
	retry.Logger = logger

	printer := &messagePrinter{out: os.Stdout}
	mgr := connection.NewManager(connection.Dialer(host, port, connCfg), transport.ObserverFuncs{
		Message: printer.print,
		Stopped: func(conn *transport.Connection) {
			logger.Info("connection closed", "conn_id", conn.ID(), "cause", conn.Err())
		},
	}, connection.ManagerConfig{
		Retry:         retry,
		AutoReconnect: cfg.Client.AutoReconnect && flags.Send == "",
		Logger:        logger,
	})
	defer mgr.Close()

	mgr.OnStateChange(func(oldState, newState connection.State) {
		logger.Debug("connection state", "from", oldState.String(), "to", newState.String())
	})
	mgr.OnReconnecting(func(attempt int, delay time.Duration) {
		logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	})

	if flags.Send != "" {
		return sendOnce(ctx, mgr, flags.Send, flags.Wait)
	}

	ic, err := interactive.New(mgr, target)
	if err != nil {
		return err
	}
	printer.setOutput(ic.Stdout())

	logger.Info("connecting", "target", target)
	if err := mgr.Connect(ctx); err != nil {
		logger.Warn("initial connect failed, use 'connect' to retry", "error", err)
	}

	ic.Run(ctx, cancel)
	return nil
}

func sendOnce(ctx context.Context, mgr *connection.Manager, payload string, wait time.Duration) error {
	v, err := interactive.ParsePayload(payload)
	if err != nil {
		return err
	}
	if err := mgr.Connect(ctx); err != nil {
		return err
	}
	if err := mgr.Send(v); err != nil {
		return err
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
	return nil
}

func discover(ctx context.Context, cfg config.File, instance string, logger *slog.Logger) (*discovery.Service, error) {
	browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{
		BrowseTimeout: cfg.Discovery.BrowseTimeout,
		Interface:     cfg.Discovery.Interface,
		Logger:        logger,
	})
	defer browser.Stop()
	return browser.Find(ctx, instance)
}

func browse(ctx context.Context, cfg config.File, logger *slog.Logger, out io.Writer) error {
	browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{
		BrowseTimeout: cfg.Discovery.BrowseTimeout,
		Interface:     cfg.Discovery.Interface,
		Logger:        logger,
	})
	defer browser.Stop()

	timeout := cfg.Discovery.BrowseTimeout
	if timeout <= 0 {
		timeout = discovery.BrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := browser.Browse(ctx)
	if err != nil {
		return err
	}

	found := 0
	for svc := range results {
		found++
		fmt.Fprintf(out, "%s\n", svc.InstanceName)
		fmt.Fprintf(out, "  Address:     %s\n", svc.Address())
		fmt.Fprintf(out, "  Host:        %s\n", svc.Host)
		fmt.Fprintf(out, "  Version:     %d (ALPN %s)\n", svc.Version, svc.ALPN)
		fmt.Fprintf(out, "  Fingerprint: %s\n", svc.Fingerprint)
	}
	if found == 0 {
		fmt.Fprintln(out, "No servers found")
	}
	return nil
}

// messagePrinter writes received messages to a replaceable writer.
type messagePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *messagePrinter) setOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = w
}

func (p *messagePrinter) print(conn *transport.Connection, msg transport.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "<< %s\n", msg.String())
}
