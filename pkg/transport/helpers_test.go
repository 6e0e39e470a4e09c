package transport

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sslserver/sslserver-go/pkg/wire"
)

const testTimeout = 3 * time.Second

// generateTestCert creates a self-signed certificate valid for 127.0.0.1.
func generateTestCert(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "sslserver-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: parsed}, parsed
}

// testProviders returns a listening provider and a dialing provider that trusts it.
func testProviders(t *testing.T) (server, client *TLSProvider) {
	t.Helper()

	cert, parsed := generateTestCert(t)
	pool := x509.NewCertPool()
	pool.AddCert(parsed)

	server = NewTLSProvider(SecurityConfig{Certificate: cert, BindHost: "127.0.0.1"})
	client = NewTLSProvider(SecurityConfig{RootCAs: pool})
	return server, client
}

func testConnConfig() ConnectionConfig {
	return ConnectionConfig{
		SetupTimeout: 2 * time.Second,
		JoinTimeout:  500 * time.Millisecond,
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// debugLogger returns a logger writing text records at debug level to w.
func debugLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// eventLog records callback names from several goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func portOf(t *testing.T, addr net.Addr) int {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		t.Fatalf("address %v is not TCP", addr)
	}
	return tcp.Port
}

// recordingObserver records callbacks in order and exposes them on channels.
type recordingObserver struct {
	mu     sync.Mutex
	events []string

	started  chan *Connection
	received chan Message
	stopped  chan *Connection

	onMessage func(conn *Connection, msg Message)
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		started:  make(chan *Connection, 64),
		received: make(chan Message, 1024),
		stopped:  make(chan *Connection, 64),
	}
}

func (o *recordingObserver) record(kind string) {
	o.mu.Lock()
	o.events = append(o.events, kind)
	o.mu.Unlock()
}

func (o *recordingObserver) OnStarted(conn *Connection) {
	o.record("started")
	o.started <- conn
}

func (o *recordingObserver) OnMessage(conn *Connection, msg Message) {
	o.record("message")
	o.received <- msg
	if o.onMessage != nil {
		o.onMessage(conn, msg)
	}
}

func (o *recordingObserver) OnStopped(conn *Connection) {
	o.record("stopped")
	o.stopped <- conn
}

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func (o *recordingObserver) count(kind string) int {
	n := 0
	for _, e := range o.Events() {
		if e == kind {
			n++
		}
	}
	return n
}

func waitConn(t *testing.T, ch <-chan *Connection, what string) *Connection {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

// newConnPair returns two listening connections joined over TLS on loopback.
func newConnPair(t *testing.T, serverObs, clientObs Observer, mutate func(*ConnectionConfig)) (server, client *Connection) {
	t.Helper()

	serverProvider, clientProvider := testProviders(t)
	ln, err := serverProvider.Listen(0, 1)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	config := testConnConfig()
	if mutate != nil {
		mutate(&config)
	}

	type result struct {
		conn *Connection
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			accepted <- result{err: err}
			return
		}
		c := NewConnection(nc, config)
		c.SetObserver(serverObs)
		accepted <- result{conn: c, err: c.BeginListening()}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	clientConfig := config
	clientConfig.Provider = clientProvider
	client, err = Dial(ctx, "127.0.0.1", portOf(t, ln.Addr()), clientConfig)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	client.SetObserver(clientObs)
	if err := client.BeginListening(); err != nil {
		t.Fatalf("client BeginListening failed: %v", err)
	}

	r := <-accepted
	if r.err != nil {
		t.Fatalf("server side failed: %v", r.err)
	}

	t.Cleanup(func() {
		client.StopListening()
		r.conn.StopListening()
	})
	return r.conn, client
}

// pipePeer is the far end of a net.Pipe that speaks the record protocol by hand.
type pipePeer struct {
	conn   net.Conn
	framer *Framer
}

// newPipeConn returns an unstarted Connection and its hand-driven peer.
func newPipeConn(t *testing.T, observer Observer, mutate func(*ConnectionConfig)) (*Connection, *pipePeer) {
	t.Helper()

	local, remote := net.Pipe()
	config := testConnConfig()
	if mutate != nil {
		mutate(&config)
	}
	c := NewConnection(local, config)
	c.SetObserver(observer)

	peer := &pipePeer{conn: remote, framer: NewFramer(remote)}
	t.Cleanup(func() {
		c.StopListening()
		remote.Close()
	})
	return c, peer
}

// begin runs BeginListening while the peer answers the header exchange.
func (p *pipePeer) begin(t *testing.T, c *Connection) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- c.BeginListening() }()

	if _, err := p.framer.ReadFrame(); err != nil {
		t.Fatalf("peer failed to read header: %v", err)
	}
	header, err := wire.EncodeHeader()
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	if err := p.framer.WriteFrame(header); err != nil {
		t.Fatalf("peer failed to write header: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("BeginListening failed: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("BeginListening did not return")
	}
}

func (p *pipePeer) write(t *testing.T, frame []byte) {
	t.Helper()
	if err := p.framer.WriteFrame(frame); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}
}

// drain reads and discards frames until the pipe closes.
func (p *pipePeer) drain() {
	go func() {
		for {
			if _, err := p.framer.ReadFrame(); err != nil && err != ErrMessageEmpty {
				return
			}
		}
	}()
}
