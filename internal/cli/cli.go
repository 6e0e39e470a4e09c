// Package cli holds the setup shared by the sslserver and sslclient
// commands: config loading with flag overrides and protocol capture.
package cli

import (
	"flag"
	"fmt"
	"log/slog"

	"github.com/sslserver/sslserver-go/pkg/config"
	"github.com/sslserver/sslserver-go/pkg/log"
)

// LoadConfig loads the file at path, or returns the defaults when path
// is empty.
func LoadConfig(path string) (config.File, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

// Visited returns the names of the flags set on the command line.
func Visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// Capture is the protocol logger chosen by the logging section.
type Capture struct {
	Logger log.Logger
	file   *log.FileLogger
}

// NewCapture opens the configured capture file. At debug level capture
// events are also written to logger. Logger is nil when capture is off.
func NewCapture(cfg config.Logging, logger *slog.Logger) (*Capture, error) {
	var sinks []log.Logger
	c := &Capture{}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("failed to open protocol log: %w", err)
		}
		c.file = fl
		sinks = append(sinks, fl)
	}
	if level, err := cfg.SlogLevel(); err == nil && level <= slog.LevelDebug && logger != nil {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}

	switch len(sinks) {
	case 0:
	case 1:
		c.Logger = sinks[0]
	default:
		c.Logger = log.NewMultiLogger(sinks...)
	}
	return c, nil
}

// Close flushes the capture file. Dropped events are reported as an error.
func (c *Capture) Close() error {
	if c == nil || c.file == nil {
		return nil
	}
	dropped := c.file.Dropped()
	if err := c.file.Close(); err != nil {
		return err
	}
	if dropped > 0 {
		return fmt.Errorf("protocol log dropped %d events", dropped)
	}
	return nil
}
