package main

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sslserver/sslserver-go/pkg/cert"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

func TestHostList(t *testing.T) {
	got := hostList(" example.com, 10.0.0.1 ,")
	if len(got) != 2 || got[0] != "example.com" || got[1] != "10.0.0.1" {
		t.Errorf("hostList = %v", got)
	}
	if got := hostList(""); len(got) != 3 || got[0] != "localhost" {
		t.Errorf("hostList(\"\") = %v", got)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	if err := generateKeyPair(dir, []string{"localhost"}); err != nil {
		t.Fatalf("generateKeyPair failed: %v", err)
	}

	pair, err := cert.LoadKeyPair(filepath.Join(dir, certFileName), filepath.Join(dir, keyFileName))
	if err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	leaf, err := leafCertificate(transport.SecurityConfig{Certificate: pair})
	if err != nil {
		t.Fatalf("leafCertificate failed: %v", err)
	}
	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CommonName = %q, want localhost", leaf.Subject.CommonName)
	}

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLeafCertificateMissing(t *testing.T) {
	if _, err := leafCertificate(transport.SecurityConfig{}); err == nil {
		t.Error("expected error without certificate")
	}
}

func TestPrintCipherSuites(t *testing.T) {
	var buf bytes.Buffer
	printCipherSuites(&buf)
	if !strings.Contains(buf.String(), "TLS_AES_128_GCM_SHA256") {
		t.Errorf("expected TLS 1.3 suite in output, got: %s", buf.String())
	}
}

func TestEchoObserver(t *testing.T) {
	pair, err := ephemeralCertificate([]string{"localhost", "127.0.0.1"})
	if err != nil {
		t.Fatalf("ephemeralCertificate failed: %v", err)
	}

	debug := transport.NewDebugObserver(nil)
	server := transport.NewServer(echoObserver(debug, slog.New(slog.DiscardHandler)), transport.NewTLSProvider(transport.SecurityConfig{
		Certificate: pair,
	}), 0, transport.ServerConfig{Port: transport.PortAny})
	if err := server.BeginListening(); err != nil {
		t.Fatalf("BeginListening failed: %v", err)
	}
	defer server.StopListening()

	port := server.Addr().(*net.TCPAddr).Port

	received := make(chan string, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, "127.0.0.1", port, transport.ConnectionConfig{
		Provider: transport.NewTLSProvider(transport.SecurityConfig{InsecureSkipVerify: true}),
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.SetObserver(transport.ObserverFuncs{
		Message: func(_ *transport.Connection, msg transport.Message) {
			var s string
			if err := msg.Decode(&s); err == nil {
				received <- s
			}
		},
	})
	if err := conn.BeginListening(); err != nil {
		t.Fatalf("BeginListening failed: %v", err)
	}
	defer conn.StopListening()

	if err := conn.Send("hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Errorf("echo = %q, want hello", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for echo")
	}
}
