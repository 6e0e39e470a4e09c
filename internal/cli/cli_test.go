package cli

import (
	"bytes"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslserver/sslserver-go/pkg/config"
	"github.com/sslserver/sslserver-go/pkg/log"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sslserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 5555\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Server.Port)
}

func TestVisited(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("port", 0, "")
	fs.Bool("echo", false, "")
	require.NoError(t, fs.Parse([]string{"-port", "1"}))

	set := Visited(fs)
	assert.True(t, set["port"])
	assert.False(t, set["echo"])
}

func TestNewCaptureDisabled(t *testing.T) {
	c, err := NewCapture(config.Logging{Level: "info"}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Nil(t, c.Logger)
	assert.NoError(t, c.Close())
}

func TestNewCaptureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.slog")
	c, err := NewCapture(config.Logging{Level: "info", ProtocolLog: path}, nil)
	require.NoError(t, err)
	require.NotNil(t, c.Logger)

	c.Logger.Log(log.Event{ConnectionID: "c1"})
	require.NoError(t, c.Close())

	r, err := log.NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	event, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "c1", event.ConnectionID)
}

func TestNewCaptureDebugAddsSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	path := filepath.Join(t.TempDir(), "capture.slog")

	c, err := NewCapture(config.Logging{Level: "debug", ProtocolLog: path}, logger)
	require.NoError(t, err)
	_, multi := c.Logger.(*log.MultiLogger)
	assert.True(t, multi)

	c.Logger.Log(log.Event{ConnectionID: "c2"})
	require.NoError(t, c.Close())
	assert.Contains(t, buf.String(), "conn_id=c2")
}
