// Command sslserver runs a TLS message server.
//
// Every accepted connection exchanges CBOR records with the peer. Events
// are logged through slog; with -echo each received message is sent back
// to its sender.
//
// Usage:
//
//	sslserver [flags]
//
// Examples:
//
//	# Create a development key pair, then serve with it
//	sslserver -gen-cert ./certs -host localhost
//	sslserver -cert ./certs/server.crt -key ./certs/server.key -echo
//
//	# Serve with a config file and advertise via mDNS
//	sslserver -config /etc/sslserver/server.yaml -advertise
//
//	# List the cipher suites of the TLS stack
//	sslserver -ciphers
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sslserver/sslserver-go/internal/cli"
	"github.com/sslserver/sslserver-go/pkg/config"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

// Flags holds the command line.
type Flags struct {
	ConfigFile  string
	Host        string
	Port        int
	Backlog     int
	CertFile    string
	KeyFile     string
	PKCS12File  string
	CAFile      string
	RequireCert bool
	LogLevel    string
	LogFormat   string
	ProtocolLog string
	Echo        bool
	Advertise   bool
	Instance    string
	SelfSigned  bool

	Ciphers bool
	GenCert string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Host, "host", "", "Bind host (default: all interfaces)")
	flag.IntVar(&flags.Port, "port", transport.DefaultPort, "Listen port (-1 for an ephemeral port)")
	flag.IntVar(&flags.Backlog, "backlog", transport.DefaultBacklog, "Soft connection limit")
	flag.StringVar(&flags.CertFile, "cert", "", "PEM certificate file")
	flag.StringVar(&flags.KeyFile, "key", "", "PEM private key file")
	flag.StringVar(&flags.PKCS12File, "pkcs12", "", "PKCS#12 keystore (password from SSLSERVER_KEYSTORE_PASSWORD)")
	flag.StringVar(&flags.CAFile, "ca", "", "PEM bundle trusted for client certificates")
	flag.BoolVar(&flags.RequireCert, "require-client-cert", false, "Require and verify client certificates")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.LogFormat, "log-format", "text", "Log format: text, json")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write protocol capture events to this file")
	flag.BoolVar(&flags.Echo, "echo", false, "Send every received message back to its sender")
	flag.BoolVar(&flags.Advertise, "advertise", false, "Advertise the server via mDNS")
	flag.StringVar(&flags.Instance, "instance", "", "mDNS instance name (default: derived from the certificate)")
	flag.BoolVar(&flags.SelfSigned, "self-signed", false, "Serve with an in-memory self-signed certificate")

	flag.BoolVar(&flags.Ciphers, "ciphers", false, "Print the cipher suites of the TLS stack and exit")
	flag.StringVar(&flags.GenCert, "gen-cert", "", "Write a self-signed key pair into this directory and exit")
}

func main() {
	flag.Parse()

	if flags.Ciphers {
		printCipherSuites(os.Stdout)
		return
	}
	if flags.GenCert != "" {
		if err := generateKeyPair(flags.GenCert, hostList(flags.Host)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
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
		cfg.Server.Host = flags.Host
	}
	if set["port"] {
		cfg.Server.Port = flags.Port
	}
	if set["backlog"] {
		cfg.Server.Backlog = flags.Backlog
	}
	if set["cert"] || set["key"] {
		cfg.TLS.CertFile, cfg.TLS.KeyFile = flags.CertFile, flags.KeyFile
		cfg.TLS.PKCS12File = ""
	}
	if set["pkcs12"] {
		cfg.TLS.PKCS12File = flags.PKCS12File
		cfg.TLS.PKCS12PasswordEnv = "SSLSERVER_KEYSTORE_PASSWORD"
		cfg.TLS.CertFile, cfg.TLS.KeyFile = "", ""
	}
	if set["ca"] {
		cfg.TLS.CAFiles = []string{flags.CAFile}
	}
	if set["require-client-cert"] {
		cfg.TLS.RequireClientCert = flags.RequireCert
	}
	if set["log-level"] {
		cfg.Logging.Level = flags.LogLevel
	}
	if set["log-format"] {
		cfg.Logging.Format = flags.LogFormat
	}
	if set["protocol-log"] {
		cfg.Logging.ProtocolLog = flags.ProtocolLog
	}
	if set["echo"] {
		cfg.Server.Echo = flags.Echo
	}
	if set["advertise"] {
		cfg.Discovery.Advertise = flags.Advertise
	}
	if set["instance"] {
		cfg.Discovery.Instance = flags.Instance
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if !cfg.TLS.HasCertificate() && !flags.SelfSigned {
		return cfg, fmt.Errorf("no certificate configured (use -cert/-key, -pkcs12, -self-signed or -gen-cert)")
	}
	return cfg, nil
}

func run(cfg config.File, logger *slog.Logger) error {
	sc, err := cfg.SecurityConfig()
	if err != nil {
		return err
	}
	if !cfg.TLS.HasCertificate() {
		sc.Certificate, err = ephemeralCertificate(hostList(cfg.Server.Host))
		if err != nil {
			return err
		}
		logger.Warn("serving with an in-memory self-signed certificate")
	}

	capture, err := cli.NewCapture(cfg.Logging, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := capture.Close(); err != nil {
			logger.Warn("protocol log", "error", err)
		}
	}()

	debug := transport.NewDebugObserver(logger)
	var observer transport.Observer = debug
	if cfg.Server.Echo {
		observer = echoObserver(debug, logger)
	}

	srvCfg := cfg.ServerConfig()
	srvCfg.Logger = logger
	srvCfg.ProtocolLogger = capture.Logger

	server := transport.NewServer(observer, transport.NewTLSProvider(sc), cfg.Server.Backlog, srvCfg)
	if err := server.BeginListening(); err != nil {
		return err
	}

	port := cfg.Server.Port
	if addr, ok := server.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	logger.Info("sslserver ready",
		"addr", server.Addr().String(),
		"backlog", server.Backlog(),
		"tls", cfg.TLS.Describe(),
		"echo", cfg.Server.Echo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Discovery.Advertise {
		adv, err := advertise(ctx, cfg, sc, port, logger)
		if err != nil {
			logger.Warn("mDNS advertising disabled", "error", err)
		} else {
			defer adv.Stop()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String(), "connections", server.ConnectionCount())
	server.StopListening()
	logger.Info("server stopped", "served", debug.Total())
	return nil
}

// echoObserver wraps next and sends every message back to its sender.
func echoObserver(next transport.Observer, logger *slog.Logger) transport.Observer {
	return transport.ObserverFuncs{
		Started: next.OnStarted,
		Message: func(conn *transport.Connection, msg transport.Message) {
			next.OnMessage(conn, msg)
			v, err := msg.Value()
			if err != nil {
				logger.Warn("echo: undecodable payload", "conn_id", conn.ID(), "error", err)
				return
			}
			if err := conn.Send(v); err != nil {
				logger.Warn("echo failed", "conn_id", conn.ID(), "error", err)
			}
		},
		Stopped: next.OnStopped,
	}
}

// hostList splits a comma-separated host flag.
func hostList(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}
	return hosts
}
