// Package interactive provides the readline command interface of
// sslclient.
package interactive

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"gopkg.in/yaml.v3"

	"github.com/sslserver/sslserver-go/pkg/connection"
	"github.com/sslserver/sslserver-go/pkg/transport"
)

// Session is the connection the client drives. *connection.Manager
// implements it.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(v any) error
	State() connection.State
	Conn() *transport.Connection
	SetAutoReconnect(enabled bool)
	BackoffAttempts() int
}

// ErrEmptyPayload is returned by ParsePayload for blank input.
var ErrEmptyPayload = errors.New("empty payload")

// Client handles interactive mode for sslclient.
type Client struct {
	session Session
	target  string
	rl      *readline.Instance

	// connectTimeout bounds the connect command.
	connectTimeout time.Duration
}

// New creates a new interactive client. target is shown by the status
// command.
func New(session Session, target string) (*Client, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sslclient> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Client{
		session:        session,
		target:         target,
		rl:             rl,
		connectTimeout: time.Minute,
	}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use it for log output and received messages.
func (c *Client) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Client) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	printHelp(c.rl.Stdout())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		if c.execute(ctx, line, c.rl.Stdout()) {
			cancel()
			return
		}
	}
}

// execute runs one command line and reports whether the client should exit.
func (c *Client) execute(ctx context.Context, line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help", "?":
		printHelp(out)

	case "send", "s":
		v, err := ParsePayload(rest)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		c.send(out, v)

	case "text", "t":
		c.send(out, rest)

	case "status":
		c.printStatus(out)

	case "connect":
		connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		err := c.session.Connect(connectCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "Connect failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "Connected")

	case "disconnect":
		c.session.Disconnect()
		fmt.Fprintln(out, "Disconnected")

	case "reconnect":
		switch strings.ToLower(rest) {
		case "on":
			c.session.SetAutoReconnect(true)
			fmt.Fprintln(out, "Auto-reconnect enabled")
		case "off":
			c.session.SetAutoReconnect(false)
			fmt.Fprintln(out, "Auto-reconnect disabled")
		default:
			fmt.Fprintln(out, "Usage: reconnect on|off")
		}

	case "quit", "exit", "q":
		fmt.Fprintln(out, "Exiting...")
		return true

	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Client) send(out io.Writer, v any) {
	if err := c.session.Send(v); err != nil {
		fmt.Fprintf(out, "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, ">> %v\n", v)
}

func (c *Client) printStatus(out io.Writer) {
	fmt.Fprintf(out, "Target:  %s\n", c.target)
	fmt.Fprintf(out, "State:   %s\n", c.session.State())
	if n := c.session.BackoffAttempts(); n > 0 {
		fmt.Fprintf(out, "Retries: %d\n", n)
	}

	conn := c.session.Conn()
	if conn == nil {
		return
	}
	fmt.Fprintf(out, "Conn ID: %s\n", conn.ID())
	fmt.Fprintf(out, "Remote:  %s\n", conn.RemoteAddr())
	if state, ok := conn.TLSState(); ok {
		fmt.Fprintf(out, "TLS:     %s %s (ALPN %s)\n",
			tls.VersionName(state.Version),
			tls.CipherSuiteName(state.CipherSuite),
			state.NegotiatedProtocol)
	}
}

// ParsePayload parses a YAML flow value, such as 42, "hi" or {a: [1, 2]},
// into a value that can be sent.
func ParsePayload(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyPayload
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return v, nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `
sslclient Commands:
  Messages:
    send <value>          - Send a YAML value, e.g. send {op: add, args: [1, 2]}
    text <string>         - Send the rest of the line as a string

  Connection:
    status                - Show connection status
    connect               - Connect (with retry)
    disconnect            - Close the connection
    reconnect on|off      - Toggle automatic reconnection

  General:
    help                  - Show this help
    quit                  - Exit`)
}
