package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sslserver/sslserver-go/pkg/wire"
)

func TestFileLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("capture file was not created")
	}
}

func TestFileLoggerWritesDecodableEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	logger.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionOut,
		Layer:        LayerRecord,
		Category:     CategoryMessage,
		LocalRole:    RoleClient,
		Record: &RecordEvent{
			Type:        wire.RecordData,
			PayloadSize: 6,
			Diagnostic:  `"hello"`,
		},
	})
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read capture file: %v", err)
	}

	event, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if event.ConnectionID != "conn-123" {
		t.Errorf("ConnectionID: got %q, want %q", event.ConnectionID, "conn-123")
	}
	if event.LocalRole != RoleClient {
		t.Errorf("LocalRole: got %v, want %v", event.LocalRole, RoleClient)
	}
	if event.Record == nil {
		t.Fatal("Record event missing")
	}
	if event.Record.Diagnostic != `"hello"` {
		t.Errorf("Diagnostic: got %q", event.Record.Diagnostic)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), ConnectionID: fmt.Sprintf("conn-%d", i)})
		logger.Close()
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].ConnectionID != "conn-1" {
		t.Errorf("second event ConnectionID: got %q, want %q", events[1].ConnectionID, "conn-1")
	}
}

func TestFileLoggerThreadSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const goroutines = 10
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				logger.Log(Event{
					Timestamp:    time.Now(),
					ConnectionID: fmt.Sprintf("conn-%d", id),
					Layer:        LayerTransport,
					Frame:        &FrameEvent{Size: 4 + j},
				})
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read capture file: %v", err)
	}

	decoder := NewDecoder(bytes.NewReader(data))
	count := 0
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			break
		}
		count++
	}

	if count != goroutines*perGoroutine {
		t.Errorf("event count: got %d, want %d", count, goroutines*perGoroutine)
	}
	if logger.Dropped() != 0 {
		t.Errorf("dropped events: got %d, want 0", logger.Dropped())
	}
}

func TestFileLoggerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Logging after close is ignored.
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "late"})
}

func TestMultiLoggerFansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}

	m := NewMultiLogger(a, nil, b)
	m.Log(Event{ConnectionID: "conn-1"})
	m.Log(Event{ConnectionID: "conn-2"})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Fatalf("expected 2 events each, got %d and %d", len(a.events), len(b.events))
	}
}

func TestNoopLoggerZeroValue(t *testing.T) {
	var l NoopLogger
	l.Log(Event{ConnectionID: "ignored"})
}

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}
