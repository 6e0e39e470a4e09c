package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/sslserver/sslserver-go/pkg/log"
)

// forEachEvent calls fn for every event left in reader. It stops at the
// first error returned by fn.
func forEachEvent(reader *log.Reader, fn func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
