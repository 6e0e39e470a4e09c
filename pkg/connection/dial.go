package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sslserver/sslserver-go/pkg/transport"
)

// ErrAttemptsExhausted is returned when every dial attempt failed.
var ErrAttemptsExhausted = errors.New("dial attempts exhausted")

// DialFunc establishes a connection that has not begun listening yet.
type DialFunc func(ctx context.Context) (*transport.Connection, error)

// Dialer returns a DialFunc that dials host:port with transport.Dial.
func Dialer(host string, port int, config transport.ConnectionConfig) DialFunc {
	return func(ctx context.Context) (*transport.Connection, error) {
		return transport.Dial(ctx, host, port, config)
	}
}

// RetryConfig bounds DialWithBackoff.
type RetryConfig struct {
	// MaxAttempts limits the number of dials. Zero or below retries until
	// the context ends.
	MaxAttempts int

	// AttemptTimeout bounds a single dial (default: 30s).
	AttemptTimeout time.Duration

	// Backoff configures the delay between attempts.
	Backoff BackoffConfig

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultAttemptTimeout bounds a single dial attempt.
const DefaultAttemptTimeout = 30 * time.Second

// DialWithBackoff calls dial until it succeeds, the attempt limit is reached
// or ctx ends. The returned connection has not begun listening.
//
// When attempts run out the error wraps both ErrAttemptsExhausted and the
// last dial error.
func DialWithBackoff(ctx context.Context, dial DialFunc, config RetryConfig) (*transport.Connection, error) {
	return dialWithBackoff(ctx, dial, NewBackoff(config.Backoff), config)
}

func dialWithBackoff(ctx context.Context, dial DialFunc, backoff *Backoff, config RetryConfig) (*transport.Connection, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, config.AttemptTimeout)
		conn, err := dial(attemptCtx)
		cancel()
		if err == nil {
			backoff.Reset()
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		}
		if config.MaxAttempts > 0 && attempt >= config.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, lastErr)
		}

		delay := backoff.Next()
		logger.Info("dial failed; retrying", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
}
