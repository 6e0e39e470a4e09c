package log

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.slog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test capture: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var events []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	path := createTestCapture(t, []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerTransport},
		{Timestamp: time.Now(), ConnectionID: "conn-2", Layer: LayerRecord},
		{Timestamp: time.Now(), ConnectionID: "conn-3", Layer: LayerLifecycle, Category: CategoryState},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].ConnectionID != "conn-1" || events[2].ConnectionID != "conn-3" {
		t.Errorf("events out of order: %q .. %q", events[0].ConnectionID, events[2].ConnectionID)
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := createTestCapture(t, nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReaderReportsCutFile(t *testing.T) {
	path := createTestCapture(t, []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerTransport},
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	_, err = reader.Next()
	if err == nil || err == io.EOF {
		t.Errorf("expected a decode error for a cut file, got %v", err)
	}
}

func TestReaderFilterByConnectionID(t *testing.T) {
	path := createTestCapture(t, []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1"},
		{Timestamp: time.Now(), ConnectionID: "conn-2"},
		{Timestamp: time.Now(), ConnectionID: "conn-1"},
	})

	reader, err := NewFilteredReader(path, Filter{ConnectionID: "conn-1"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	if got := len(readAll(t, reader)); got != 2 {
		t.Errorf("expected 2 events, got %d", got)
	}
}

func TestReaderFilterByLayerAndDirection(t *testing.T) {
	path := createTestCapture(t, []Event{
		{Timestamp: time.Now(), Layer: LayerTransport, Direction: DirectionIn},
		{Timestamp: time.Now(), Layer: LayerTransport, Direction: DirectionOut},
		{Timestamp: time.Now(), Layer: LayerRecord, Direction: DirectionIn},
	})

	layer := LayerTransport
	dir := DirectionIn
	reader, err := NewFilteredReader(path, Filter{Layer: &layer, Direction: &dir})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	if got := len(readAll(t, reader)); got != 1 {
		t.Errorf("expected 1 event, got %d", got)
	}
}

func TestReaderFilterByRole(t *testing.T) {
	path := createTestCapture(t, []Event{
		{Timestamp: time.Now(), LocalRole: RoleServer},
		{Timestamp: time.Now(), LocalRole: RoleClient},
	})

	role := RoleClient
	reader, err := NewFilteredReader(path, Filter{Role: &role})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 1 || events[0].LocalRole != RoleClient {
		t.Errorf("expected one client event, got %+v", events)
	}
}

func TestReaderFilterByTimeRange(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	path := createTestCapture(t, []Event{
		{Timestamp: base.Add(-time.Minute), ConnectionID: "before"},
		{Timestamp: base, ConnectionID: "start"},
		{Timestamp: base.Add(time.Minute), ConnectionID: "end"},
	})

	start := base
	end := base.Add(time.Minute)
	reader, err := NewFilteredReader(path, Filter{TimeStart: &start, TimeEnd: &end})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 1 || events[0].ConnectionID != "start" {
		t.Errorf("expected only the event at start, got %+v", events)
	}
}
