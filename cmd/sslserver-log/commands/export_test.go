package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sslserver/sslserver-go/pkg/log"
	"github.com/sslserver/sslserver-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.slog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	return path
}

func sampleEvents(ts time.Time) []log.Event {
	return []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345-0000",
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:4444",
			Frame:        &log.FrameEvent{Size: 12},
		},
		{
			Timestamp:    ts.Add(time.Second),
			ConnectionID: "abc12345-0000",
			Direction:    log.DirectionIn,
			Layer:        log.LayerRecord,
			Category:     log.CategoryMessage,
			LocalRole:    log.RoleClient,
			RemoteAddr:   "127.0.0.1:4444",
			Record:       &log.RecordEvent{Type: wire.RecordData, PayloadSize: 5, Diagnostic: `h'68656c6c6f'`},
		},
	}
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	path := createTestLogFile(t, sampleEvents(ts))

	output := filepath.Join(t.TempDir(), "out.jsonl")
	if err := RunExport(path, "jsonl", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), data)
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1 is not valid JSON: %v", err)
	}
	if first["ConnectionID"] != "abc12345-0000" {
		t.Errorf("expected ConnectionID abc12345-0000, got %v", first["ConnectionID"])
	}
	if first["Frame"] == nil {
		t.Errorf("expected Frame in first event, got %v", first)
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	path := createTestLogFile(t, sampleEvents(ts))

	output := filepath.Join(t.TempDir(), "out.csv")
	if err := RunExport(path, "csv", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}

	header := strings.Join(rows[0], ",")
	if header != "timestamp,connection_id,role,remote,direction,layer,category,type,size" {
		t.Errorf("unexpected header: %s", header)
	}

	if rows[1][2] != "CLIENT" || rows[1][4] != "OUT" || rows[1][7] != "Frame" || rows[1][8] != "12" {
		t.Errorf("unexpected frame row: %v", rows[1])
	}
	if rows[2][5] != "RECORD" || rows[2][7] != "Record(data)" || rows[2][8] != "5" {
		t.Errorf("unexpected record row: %v", rows[2])
	}
}

func TestExportWritesToStdout(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	path := createTestLogFile(t, sampleEvents(ts)[:1])

	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if err := exportJSONL(reader, &buf); err != nil {
		t.Fatalf("exportJSONL failed: %v", err)
	}
	if !strings.Contains(buf.String(), "abc12345-0000") {
		t.Errorf("expected connection ID in output, got: %s", buf.String())
	}
}

func TestExportUnknownFormat(t *testing.T) {
	err := RunExport("does-not-matter.slog", "xml", "")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("unexpected error: %v", err)
	}
}
