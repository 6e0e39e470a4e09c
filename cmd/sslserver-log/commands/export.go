package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sslserver/sslserver-go/pkg/log"
)

// csvHeader names the columns written by csvRow.
var csvHeader = []string{"timestamp", "connection_id", "role", "remote", "direction", "layer", "category", "type", "size"}

// RunExport writes the capture file at path as jsonl or csv to output,
// or to stdout when output is empty.
func RunExport(path, format, output string) error {
	var export func(*log.Reader, io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	if output == "" {
		return export(reader, os.Stdout)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := export(reader, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	return forEachEvent(reader, func(event log.Event) error {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	err := forEachEvent(reader, func(event log.Event) error {
		return cw.Write(csvRow(event))
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}

// csvRow flattens an event. Size is the frame size or record payload size.
func csvRow(event log.Event) []string {
	size := ""
	switch {
	case event.Frame != nil:
		size = strconv.Itoa(event.Frame.Size)
	case event.Record != nil:
		size = strconv.Itoa(event.Record.PayloadSize)
	}
	return []string{
		event.Timestamp.UTC().Format(timestampLayout),
		event.ConnectionID,
		event.LocalRole.String(),
		event.RemoteAddr,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		eventType(event),
		size,
	}
}
